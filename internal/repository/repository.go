package repository

import (
	"context"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, user *domain.User) error
	// UpdatePasswordByEmail sets the password of the first user matching email
	// and reports whether a document was modified.
	UpdatePasswordByEmail(ctx context.Context, email, passwordHash string) (bool, error)
}

// PostRepository persists posts.
//
// authorID arguments restrict the mutation to posts stamped with that author;
// an empty authorID matches any post.
type PostRepository interface {
	ListPosts(ctx context.Context) ([]domain.Document, error)
	InsertPost(ctx context.Context, doc domain.Document) (string, error)
	// ToggleLike atomically flips userID's membership in the post's likedBy set.
	ToggleLike(ctx context.Context, postID, userID string) (domain.LikeResult, error)
	AppendComment(ctx context.Context, postID string, comment domain.Comment) (bool, error)
	UpdateContent(ctx context.Context, postID, authorID string, content any) (bool, error)
	DeletePost(ctx context.Context, postID, authorID string) (bool, error)
}

// Pinger reports store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
