package post

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/ShejanMahamud/atg-task-2-server/internal/domain"
	"github.com/ShejanMahamud/atg-task-2-server/internal/repository"
)

// ErrPostNotFound is returned when the addressed post does not exist or its id is malformed.
var ErrPostNotFound = errors.New("post: not found")

// Publisher receives feed events after successful mutations.
type Publisher interface {
	Publish(event domain.PostEvent)
}

// Service implements the post workflows.
type Service struct {
	posts     repository.PostRepository
	publisher Publisher
	logger    *slog.Logger
	ownership bool
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher sends feed events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithOwnership stamps authors on create and scopes updates and deletes to them.
func WithOwnership(enabled bool) Option {
	return func(s *Service) { s.ownership = enabled }
}

// New constructs a Service.
func New(posts repository.PostRepository, logger *slog.Logger, opts ...Option) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{posts: posts, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// OwnershipEnforced reports whether author checks are active.
func (s Service) OwnershipEnforced() bool {
	return s.ownership
}

// List returns all posts in store order.
func (s Service) List(ctx context.Context) ([]domain.Document, error) {
	docs, err := s.posts.ListPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

// Create stores doc as supplied and returns its identity. An empty identity means the store reported none.
func (s Service) Create(ctx context.Context, doc domain.Document, actor *domain.Profile) (string, error) {
	if s.ownership && actor != nil {
		doc["authorId"] = actor.ID
	}
	id, err := s.posts.InsertPost(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}
	if id != "" {
		s.publish(domain.EventPostCreated, id, actorID(actor), nil)
	}
	return id, nil
}

// ToggleLike flips userID's like on postID.
func (s Service) ToggleLike(ctx context.Context, postID, userID string) (domain.LikeResult, error) {
	res, err := s.posts.ToggleLike(ctx, postID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrInvalidID) {
			return domain.LikeResult{}, ErrPostNotFound
		}
		return domain.LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}
	if res.Modified {
		event := domain.EventPostUnliked
		if res.Liked {
			event = domain.EventPostLiked
		}
		likes := res.Likes
		s.publish(event, postID, userID, &likes)
	}
	return res, nil
}

// AddComment appends info with a fresh identity to the post's comments.
func (s Service) AddComment(ctx context.Context, postID string, info map[string]any) (bool, error) {
	comment := domain.NewComment(info)
	ok, err := s.posts.AppendComment(ctx, postID, comment)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return false, nil
		}
		return false, fmt.Errorf("append comment: %w", err)
	}
	if ok {
		s.publish(domain.EventPostCommented, postID, "", nil)
	}
	return ok, nil
}

// UpdateContent replaces the post's content.
func (s Service) UpdateContent(ctx context.Context, postID string, actor *domain.Profile, content any) (bool, error) {
	ok, err := s.posts.UpdateContent(ctx, postID, s.authorScope(actor), content)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return false, nil
		}
		return false, fmt.Errorf("update post: %w", err)
	}
	if ok {
		s.publish(domain.EventPostUpdated, postID, actorID(actor), nil)
	}
	return ok, nil
}

// Delete removes the post.
func (s Service) Delete(ctx context.Context, postID string, actor *domain.Profile) (bool, error) {
	ok, err := s.posts.DeletePost(ctx, postID, s.authorScope(actor))
	if err != nil {
		if errors.Is(err, repository.ErrInvalidID) {
			return false, nil
		}
		return false, fmt.Errorf("delete post: %w", err)
	}
	if ok {
		s.publish(domain.EventPostDeleted, postID, actorID(actor), nil)
	}
	return ok, nil
}

func (s Service) authorScope(actor *domain.Profile) string {
	if !s.ownership || actor == nil {
		return ""
	}
	return actor.ID
}

func (s Service) publish(kind, postID, userID string, likes *int) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(domain.PostEvent{
		Type:       kind,
		PostID:     postID,
		UserID:     userID,
		Likes:      likes,
		OccurredAt: s.now().UTC(),
	})
}

func actorID(actor *domain.Profile) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}
