package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository"
)

// Collection names.
const (
	UsersCollection = "users"
	PostsCollection = "posts"
)

// Repository implements persistence interfaces on MongoDB.
type Repository struct {
	db    *mongo.Database
	users *mongo.Collection
	posts *mongo.Collection
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.PostRepository = (*Repository)(nil)
	_ repository.Pinger         = (*Repository)(nil)
)

// Connect opens a client against uri using the stable server API.
// Nested documents decode as maps so listed posts serialize as plain JSON objects.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1).SetStrict(true).SetDeprecationErrors(true)).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return client, nil
}

// New constructs a Repository over db.
func New(db *mongo.Database) *Repository {
	return &Repository{
		db:    db,
		users: db.Collection(UsersCollection),
		posts: db.Collection(PostsCollection),
	}
}

// Ping issues the admin ping command.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Client().Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// FindByUsername fetches a user by username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	if err := r.users.FindOne(ctx, bson.M{"username": username}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user and records the generated identity on it.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	res, err := r.users.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrConflict
		}
		return err
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		user.ID = id
	}
	return nil
}

// UpdatePasswordByEmail sets the password hash on the first user with email.
func (r *Repository) UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) (bool, error) {
	res, err := r.users.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"password": passwordHash}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// ListPosts returns every post in natural order.
func (r *Repository) ListPosts(ctx context.Context) ([]domain.Document, error) {
	cursor, err := r.posts.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, domain.Document(m))
	}
	return docs, nil
}

// InsertPost stores doc verbatim and returns the generated identity, or "" when none was reported.
func (r *Repository) InsertPost(ctx context.Context, doc domain.Document) (string, error) {
	res, err := r.posts.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	switch id := res.InsertedID.(type) {
	case nil:
		return "", nil
	case primitive.ObjectID:
		return id.Hex(), nil
	default:
		return fmt.Sprint(id), nil
	}
}

// ToggleLike flips membership with a single pipeline update, so concurrent
// toggles serialize on the document instead of racing a read against a write.
func (r *Repository) ToggleLike(ctx context.Context, postID, userID string) (domain.LikeResult, error) {
	oid, err := parseID(postID)
	if err != nil {
		return domain.LikeResult{}, err
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"likes": 1, "likedBy": 1, "liked": 1})
	var post domain.Post
	err = r.posts.FindOneAndUpdate(ctx, bson.M{"_id": oid}, toggleLikePipeline(userID), opts).Decode(&post)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.LikeResult{}, repository.ErrNotFound
		}
		return domain.LikeResult{}, err
	}
	return domain.LikeResult{Liked: post.Liked, Likes: post.Likes, Modified: true}, nil
}

func toggleLikePipeline(userID string) mongo.Pipeline {
	uid := bson.D{{Key: "$literal", Value: userID}}
	member := bson.A{uid}
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "likedBy", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$likedBy", bson.A{}}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "liked", Value: bson.D{{Key: "$not", Value: bson.A{
				bson.D{{Key: "$in", Value: bson.A{uid, "$likedBy"}}},
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "likedBy", Value: bson.D{{Key: "$cond", Value: bson.A{
				"$liked",
				bson.D{{Key: "$concatArrays", Value: bson.A{"$likedBy", member}}},
				bson.D{{Key: "$setDifference", Value: bson.A{"$likedBy", member}}},
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "likes", Value: bson.D{{Key: "$size", Value: "$likedBy"}}},
		}}},
	}
}

// AppendComment pushes comment onto the post's comment sequence.
func (r *Repository) AppendComment(ctx context.Context, postID string, comment domain.Comment) (bool, error) {
	oid, err := parseID(postID)
	if err != nil {
		return false, err
	}
	res, err := r.posts.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$push": bson.M{"comments": comment}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// UpdateContent replaces the post's content field.
func (r *Repository) UpdateContent(ctx context.Context, postID, authorID string, content any) (bool, error) {
	filter, err := postFilter(postID, authorID)
	if err != nil {
		return false, err
	}
	res, err := r.posts.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"content": content}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// DeletePost removes the post.
func (r *Repository) DeletePost(ctx context.Context, postID, authorID string) (bool, error) {
	filter, err := postFilter(postID, authorID)
	if err != nil {
		return false, err
	}
	res, err := r.posts.DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func postFilter(postID, authorID string) (bson.M, error) {
	oid, err := parseID(postID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"_id": oid}
	if authorID != "" {
		filter["authorId"] = authorID
	}
	return filter, nil
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", repository.ErrInvalidID, id)
	}
	return oid, nil
}
