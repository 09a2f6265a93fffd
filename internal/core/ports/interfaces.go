package ports

import (
	"context"

	"ardu-agent/internal/core/domain"
)

// TokenSource is the auth capability handed to the backend adapter and the synchronizer.
type TokenSource interface {
	Token() string
	CurrentUser() (domain.User, bool)
}

// FeedBackend is the slice of the REST API the engagement synchronizer depends on.
type FeedBackend interface {
	ListPosts(ctx context.Context) ([]domain.Post, error)
	ReactionSummary(ctx context.Context, postID string) (domain.Engagement, error)
	SetReaction(ctx context.Context, postID, username string, t domain.ReactionType) error
	ClearReaction(ctx context.Context, postID, username string, t domain.ReactionType) error
	Share(ctx context.Context, postID, username string) error
	ListComments(ctx context.Context, postID string, page, size int) (domain.CommentPage, error)
	AddComment(ctx context.Context, postID, username, text string) (domain.Comment, error)
}

// ModerationBackend is used by the admin review queue.
type ModerationBackend interface {
	PendingPosts(ctx context.Context) ([]domain.Post, error)
	ModeratePost(ctx context.Context, postID string, d domain.Decision) error
	PendingUsers(ctx context.Context) ([]domain.PendingUser, error)
	ModerateUser(ctx context.Context, userID string, d domain.Decision) error
}

type Storage interface {
	SaveSession(ctx context.Context, s domain.Session) error
	LoadSession(ctx context.Context) (domain.Session, error)
	ClearSession(ctx context.Context) error

	// Last merged feed, used to render something before the first refresh completes.
	SaveSnapshot(ctx context.Context, posts []domain.Post) error
	LoadSnapshot(ctx context.Context) ([]domain.Post, error)

	IsReviewed(ctx context.Context, kind, id string) (bool, error)
	MarkReviewed(ctx context.Context, kind, id string) error
}

// Reviewer gives an advisory score for a pending post.
type Reviewer interface {
	EvaluatePost(ctx context.Context, post domain.Post) (int, string, error)
}

// Notifier receives engagement events from the synchronizer.
type Notifier interface {
	Notify(ctx context.Context, ev domain.EngagementEvent)
}

type UserAction string

const (
	ActionApprove UserAction = "approve"
	ActionReject  UserAction = "reject"
	ActionSkip    UserAction = "skip"
)

type Interaction interface {
	Confirm(ctx context.Context, title, body string) (UserAction, error)
}
