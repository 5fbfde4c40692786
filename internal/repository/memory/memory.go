// Package memory provides an in-process implementation of the repository
// interfaces with the same observable semantics as the MongoDB store.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository"
)

// Repository keeps users and posts in memory. It is safe for concurrent use.
type Repository struct {
	mu    sync.Mutex
	users []domain.User
	posts []domain.Document
}

var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.PostRepository = (*Repository)(nil)
	_ repository.Pinger         = (*Repository)(nil)
)

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{}
}

// Ping always succeeds.
func (r *Repository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == user.Username {
			return repository.ErrConflict
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	r.users = append(r.users, *user)
	return nil
}

func (r *Repository) UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.users {
		if r.users[i].Email != email {
			continue
		}
		if r.users[i].Password == passwordHash {
			return false, nil
		}
		r.users[i].Password = passwordHash
		return true, nil
	}
	return false, nil
}

func (r *Repository) ListPosts(ctx context.Context) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Document, 0, len(r.posts))
	for _, doc := range r.posts {
		out = append(out, domain.Document(cloneValue(map[string]any(doc)).(map[string]any)))
	}
	return out, nil
}

func (r *Repository) InsertPost(ctx context.Context, doc domain.Document) (string, error) {
	stored := domain.Document(cloneValue(map[string]any(doc)).(map[string]any))
	if _, ok := stored["_id"]; !ok {
		stored["_id"] = primitive.NewObjectID()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.posts {
		if reflect.DeepEqual(existing["_id"], stored["_id"]) {
			return "", fmt.Errorf("%w: duplicate _id", repository.ErrConflict)
		}
	}
	r.posts = append(r.posts, stored)
	switch id := stored["_id"].(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	default:
		return fmt.Sprint(id), nil
	}
}

func (r *Repository) ToggleLike(ctx context.Context, postID, userID string) (domain.LikeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.findPost(postID, "")
	if err != nil {
		return domain.LikeResult{}, err
	}
	if doc == nil {
		return domain.LikeResult{}, repository.ErrNotFound
	}
	likedBy, err := memberList(doc["likedBy"])
	if err != nil {
		return domain.LikeResult{}, err
	}
	set := domain.NewLikeSet(likedBy...)
	liked := set.Toggle(userID)
	if liked {
		likedBy = append(likedBy, userID)
	} else {
		likedBy = set.Members()
	}
	values := make([]any, 0, len(likedBy))
	for _, m := range likedBy {
		values = append(values, m)
	}
	doc["likedBy"] = values
	doc["likes"] = int32(len(values))
	doc["liked"] = liked
	return domain.LikeResult{Liked: liked, Likes: len(values), Modified: true}, nil
}

func (r *Repository) AppendComment(ctx context.Context, postID string, comment domain.Comment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.findPost(postID, "")
	if err != nil || doc == nil {
		return false, err
	}
	entry := make(map[string]any, len(comment.Fields)+1)
	for k, v := range comment.Fields {
		entry[k] = cloneValue(v)
	}
	entry["_id"] = comment.ID
	var comments []any
	switch existing := doc["comments"].(type) {
	case nil:
	case []any:
		comments = existing
	default:
		return false, fmt.Errorf("memory: comments field is %T, not an array", existing)
	}
	doc["comments"] = append(comments, entry)
	return true, nil
}

func (r *Repository) UpdateContent(ctx context.Context, postID, authorID string, content any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, err := r.findPost(postID, authorID)
	if err != nil || doc == nil {
		return false, err
	}
	if current, ok := doc["content"]; ok && reflect.DeepEqual(current, content) {
		return false, nil
	}
	doc["content"] = cloneValue(content)
	return true, nil
}

func (r *Repository) DeletePost(ctx context.Context, postID, authorID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oid, err := parseID(postID)
	if err != nil {
		return false, err
	}
	for i, doc := range r.posts {
		if doc["_id"] != oid || !authoredBy(doc, authorID) {
			continue
		}
		r.posts = append(r.posts[:i], r.posts[i+1:]...)
		return true, nil
	}
	return false, nil
}

// findPost returns the live document or nil when nothing matches. Callers hold r.mu.
func (r *Repository) findPost(postID, authorID string) (domain.Document, error) {
	oid, err := parseID(postID)
	if err != nil {
		return nil, err
	}
	for _, doc := range r.posts {
		if doc["_id"] == oid && authoredBy(doc, authorID) {
			return doc, nil
		}
	}
	return nil, nil
}

func authoredBy(doc domain.Document, authorID string) bool {
	if authorID == "" {
		return true
	}
	author, _ := doc["authorId"].(string)
	return author == authorID
}

func memberList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("memory: likedBy member is %T, not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("memory: likedBy field is %T, not an array", v)
	}
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", repository.ErrInvalidID, id)
	}
	return oid, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case domain.Document:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
