package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

const (
	KindPost = "post"
	KindUser = "user"
)

// Result counts the decisions taken during one pass over the queue.
type Result struct {
	Approved int
	Rejected int
	Skipped  int
	// Failed counts decisions the backend did not accept; those items are asked again next run.
	Failed int
}

// Queue walks pending posts and registrations and applies the admin's decisions.
// Approved and rejected items are recorded in storage; skipped ones are only
// remembered for the lifetime of the Queue.
type Queue struct {
	backend  ports.ModerationBackend
	store    ports.Storage
	reviewer ports.Reviewer
	ui       ports.Interaction
	tokens   ports.TokenSource

	mu      sync.Mutex
	skipped map[string]bool
}

// NewQueue builds a queue. reviewer may be nil.
func NewQueue(backend ports.ModerationBackend, store ports.Storage, reviewer ports.Reviewer, ui ports.Interaction, tokens ports.TokenSource) *Queue {
	return &Queue{
		backend:  backend,
		store:    store,
		reviewer: reviewer,
		ui:       ui,
		tokens:   tokens,
		skipped:  make(map[string]bool),
	}
}

func (q *Queue) requireAdmin() error {
	u, ok := q.tokens.CurrentUser()
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if !u.IsAdmin() {
		return domain.ErrForbiddenRole
	}
	return nil
}

// Run asks for a decision on every pending item not handled before.
func (q *Queue) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := q.requireAdmin(); err != nil {
		return res, err
	}

	posts, err := q.backend.PendingPosts(ctx)
	if err != nil {
		return res, fmt.Errorf("load pending posts: %w", err)
	}
	for _, p := range posts {
		title, body := q.describePost(ctx, p)
		if err := q.decide(ctx, KindPost, p.ID, title, body, q.backend.ModeratePost, &res); err != nil {
			return res, err
		}
	}

	users, err := q.backend.PendingUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("load pending users: %w", err)
	}
	for _, u := range users {
		title, body := describeUser(u)
		if err := q.decide(ctx, KindUser, u.ID, title, body, q.backend.ModerateUser, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (q *Queue) seen(ctx context.Context, kind, id string) (bool, error) {
	q.mu.Lock()
	skipped := q.skipped[kind+":"+id]
	q.mu.Unlock()
	if skipped {
		return true, nil
	}
	return q.store.IsReviewed(ctx, kind, id)
}

func (q *Queue) decide(ctx context.Context, kind, id, title, body string, apply func(context.Context, string, domain.Decision) error, res *Result) error {
	if id == "" {
		return nil
	}
	done, err := q.seen(ctx, kind, id)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	action, err := q.ui.Confirm(ctx, title, body)
	if err != nil {
		return err
	}

	var d domain.Decision
	switch action {
	case ports.ActionApprove:
		d = domain.DecisionApprove
	case ports.ActionReject:
		d = domain.DecisionReject
	default:
		q.mu.Lock()
		q.skipped[kind+":"+id] = true
		q.mu.Unlock()
		res.Skipped++
		return nil
	}

	if err := apply(ctx, id, d); err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			return err
		}
		// someone else may have decided it already
		if errors.Is(err, domain.ErrNotFound) {
			slog.Info("review item no longer pending", "kind", kind, "id", id)
			return q.store.MarkReviewed(ctx, kind, id)
		}
		slog.Warn("failed to apply decision", "kind", kind, "id", id, "decision", d, "error", err)
		res.Failed++
		return nil
	}

	if d == domain.DecisionApprove {
		res.Approved++
	} else {
		res.Rejected++
	}
	slog.Info("✅ Review decision applied", "kind", kind, "id", id, "decision", d)
	return q.store.MarkReviewed(ctx, kind, id)
}

func (q *Queue) describePost(ctx context.Context, p domain.Post) (string, string) {
	title := fmt.Sprintf("📝 Pending post by %s", p.Author.Name)

	var b strings.Builder
	b.WriteString(p.Content)
	if p.MediaURL != "" {
		fmt.Fprintf(&b, "\n\n🖼 %s", p.MediaURL)
	}
	if q.reviewer != nil {
		score, reason, err := q.reviewer.EvaluatePost(ctx, p)
		if err != nil {
			slog.Warn("advisory review unavailable", "post_id", p.ID, "error", err)
		} else {
			fmt.Fprintf(&b, "\n\n🤖 Score %d/10: %s", score, reason)
		}
	}
	return title, b.String()
}

func describeUser(u domain.PendingUser) (string, string) {
	title := "👤 Pending registration"
	body := fmt.Sprintf("%s <%s>", u.Name, u.Email)
	if !u.RequestedAt.IsZero() {
		body += "\nRequested " + u.RequestedAt.Format("2006-01-02 15:04")
	}
	return title, body
}
