package domain

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a schema-free post record as stored and listed.
type Document map[string]any

// Post is the typed view over the fields of a post document the API mutates.
type Post struct {
	ID       primitive.ObjectID `bson:"_id" json:"_id"`
	Content  any                `bson:"content,omitempty" json:"content,omitempty"`
	Likes    int                `bson:"likes" json:"likes"`
	LikedBy  LikeSet            `bson:"likedBy" json:"likedBy"`
	Liked    bool               `bson:"liked" json:"liked"`
	AuthorID string             `bson:"authorId,omitempty" json:"authorId,omitempty"`
	Comments []Comment          `bson:"comments,omitempty" json:"comments,omitempty"`
}

// Comment is a client-supplied comment body plus its server-assigned identity.
type Comment struct {
	ID     primitive.ObjectID `bson:"_id"`
	Fields map[string]any     `bson:",inline"`
}

// NewComment copies info and assigns a fresh identity. A client-supplied _id is discarded.
func NewComment(info map[string]any) Comment {
	fields := make(map[string]any, len(info))
	for k, v := range info {
		if k == "_id" {
			continue
		}
		fields[k] = v
	}
	return Comment{ID: primitive.NewObjectID(), Fields: fields}
}

// MarshalJSON flattens the comment into a single object.
func (c Comment) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Fields)+1)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["_id"] = c.ID.Hex()
	return json.Marshal(out)
}

// LikeResult reports the state of a post after a like toggle.
type LikeResult struct {
	Liked    bool
	Likes    int
	Modified bool
}

// Feed event types.
const (
	EventPostCreated   = "post.created"
	EventPostLiked     = "post.liked"
	EventPostUnliked   = "post.unliked"
	EventPostCommented = "post.commented"
	EventPostUpdated   = "post.updated"
	EventPostDeleted   = "post.deleted"
)

// PostEvent notifies feed subscribers of a post mutation.
type PostEvent struct {
	Type       string    `json:"type"`
	PostID     string    `json:"postId"`
	UserID     string    `json:"userId,omitempty"`
	Likes      *int      `json:"likes,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
