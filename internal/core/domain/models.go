package domain

import (
	"strings"
	"time"
)

// ReactionType is the viewer's reaction on a post. The zero value means no reaction.
type ReactionType string

const (
	ReactionNone  ReactionType = ""
	ReactionLike  ReactionType = "LIKE"
	ReactionLove  ReactionType = "LOVE"
	ReactionHaha  ReactionType = "HAHA"
	ReactionWow   ReactionType = "WOW"
	ReactionSad   ReactionType = "SAD"
	ReactionAngry ReactionType = "ANGRY"
)

// ReactionTypes lists every selectable reaction in display order.
var ReactionTypes = []ReactionType{ReactionLike, ReactionLove, ReactionHaha, ReactionWow, ReactionSad, ReactionAngry}

// ParseReactionType accepts any casing ("like", "Like", "LIKE").
// Empty, "none" and "null" map to ReactionNone.
func ParseReactionType(s string) (ReactionType, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "", "NONE", "NULL":
		return ReactionNone, true
	}
	for _, t := range ReactionTypes {
		if string(t) == s {
			return t, true
		}
	}
	return ReactionNone, false
}

func (t ReactionType) Emoji() string {
	switch t {
	case ReactionLike:
		return "👍"
	case ReactionLove:
		return "❤️"
	case ReactionHaha:
		return "😂"
	case ReactionWow:
		return "😮"
	case ReactionSad:
		return "😢"
	case ReactionAngry:
		return "😡"
	}
	return ""
}

// Reactor is one entry of the bounded recent-reactors list.
type Reactor struct {
	Name     string
	ImageURL string
	Type     ReactionType
}

// Engagement is the authoritative reaction summary of a post.
type Engagement struct {
	Total          int
	Counts         map[ReactionType]int
	UserReaction   ReactionType
	RecentReactors []Reactor
}

// Clone returns a deep copy so view models never share maps or slices with snapshots.
func (e Engagement) Clone() Engagement {
	out := e
	if e.Counts != nil {
		out.Counts = make(map[ReactionType]int, len(e.Counts))
		for k, v := range e.Counts {
			out.Counts[k] = v
		}
	}
	if e.RecentReactors != nil {
		out.RecentReactors = append([]Reactor(nil), e.RecentReactors...)
	}
	return out
}

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Author is the display identity attached to posts and comments.
type Author struct {
	ID        string
	Name      string
	AvatarURL string
}

type PostStatus string

const (
	PostPending  PostStatus = "PENDING"
	PostApproved PostStatus = "APPROVED"
	PostRejected PostStatus = "REJECTED"
)

// Post represents a post as returned by the ARDU backend.
type Post struct {
	ID           string
	Content      string
	MediaURL     string
	MediaKind    MediaKind
	Author       Author
	CreatedAt    time.Time
	Status       PostStatus
	CommentCount int
	ShareCount   int

	// Engagement is nil when the reaction summary could not be fetched.
	Engagement *Engagement
}

// Comment represents a comment on a post.
type Comment struct {
	ID        string
	PostID    string
	Author    Author
	Text      string
	CreatedAt time.Time
}

// CommentPage is one 0-based page of comments, oldest first.
type CommentPage struct {
	Comments []Comment
	Page     int
	Size     int
	Last     bool
}

const RoleMainAdmin = "MAIN_ADMIN"

type User struct {
	ID        string
	Email     string
	Name      string
	Username  string
	Role      string
	MainAdmin bool
	AvatarURL string
	Bio       string
}

// Handle is the name sent as "username" on reaction and comment calls.
func (u User) Handle() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Name
}

func (u User) IsAdmin() bool {
	return u.MainAdmin || u.Role == RoleMainAdmin
}

// Session is the authenticated identity for the lifetime of a login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

func (s Session) Valid(now time.Time) bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// PendingUser is a registration waiting for admin approval.
type PendingUser struct {
	ID          string
	Name        string
	Email       string
	RequestedAt time.Time
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type EventKind string

const (
	EventUpdated           EventKind = "updated"
	EventReactionConfirmed EventKind = "reaction.confirmed"
	EventActionFailed      EventKind = "reaction.rolled_back"
	EventCommentCreated    EventKind = "comment.created"
	EventSessionExpired    EventKind = "session.expired"
)

// EngagementEvent is emitted by the synchronizer toward the render layer.
type EngagementEvent struct {
	ID       string
	Kind     EventKind
	PostID   string
	Reaction ReactionType
	Count    int
	Err      error
	At       time.Time
}
