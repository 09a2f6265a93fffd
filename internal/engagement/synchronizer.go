package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

const (
	DefaultTimeout            = 12 * time.Second
	DefaultPollInterval       = 30 * time.Second
	DefaultCommentPageSize    = 10
	defaultSummaryConcurrency = 4
)

type Options struct {
	// Timeout bounds every backend call; expiry counts as a failure.
	Timeout         time.Duration
	CommentPageSize int
	Notifiers       []ports.Notifier
}

// Synchronizer reconciles the viewer's optimistic actions with polled server state.
type Synchronizer struct {
	backend   ports.FeedBackend
	tokens    ports.TokenSource
	notifiers []ports.Notifier
	timeout   time.Duration
	pageSize  int
	tracer    trace.Tracer
	now       func() time.Time

	mu    sync.Mutex
	order []string
	posts map[string]*postState
}

func NewSynchronizer(backend ports.FeedBackend, tokens ports.TokenSource, opts Options) *Synchronizer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CommentPageSize <= 0 {
		opts.CommentPageSize = DefaultCommentPageSize
	}
	return &Synchronizer{
		backend:   backend,
		tokens:    tokens,
		notifiers: opts.Notifiers,
		timeout:   opts.Timeout,
		pageSize:  opts.CommentPageSize,
		tracer:    otel.Tracer("ardu-agent/engagement"),
		now:       time.Now,
		posts:     make(map[string]*postState),
	}
}

// AddNotifier registers another event receiver. Call before any traffic starts.
func (s *Synchronizer) AddNotifier(n ports.Notifier) {
	s.notifiers = append(s.notifiers, n)
}

func (s *Synchronizer) emit(ctx context.Context, ev domain.EngagementEvent) {
	ev.ID = uuid.NewString()
	ev.At = s.now()
	for _, n := range s.notifiers {
		n.Notify(ctx, ev)
	}
}

func (s *Synchronizer) user() (domain.User, error) {
	if s.tokens == nil {
		return domain.User{}, domain.ErrNotAuthenticated
	}
	u, ok := s.tokens.CurrentUser()
	if !ok || u.Handle() == "" {
		return domain.User{}, domain.ErrNotAuthenticated
	}
	return u, nil
}

// Apply sets the viewer's reaction on a post optimistically and settles it
// against the server. Picking the reaction the viewer already has clears it.
// A second call while the first is still pending is rejected with
// domain.ErrActionInFlight. On failure the post is rolled back to exactly
// its pre-call values before Apply returns.
func (s *Synchronizer) Apply(ctx context.Context, postID string, picked domain.ReactionType) error {
	u, err := s.user()
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "engagement.apply_reaction",
		trace.WithAttributes(attribute.String("post.id", postID), attribute.String("reaction", string(picked))))
	defer span.End()

	s.mu.Lock()
	st, ok := s.posts[postID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("post %s: %w", postID, domain.ErrNotFound)
	}
	if st.inFlight {
		s.mu.Unlock()
		return domain.ErrActionInFlight
	}
	prev := st.eng.UserReaction
	next := resolveTarget(prev, picked)
	if prev == domain.ReactionNone && next == domain.ReactionNone {
		s.mu.Unlock()
		return nil
	}
	st.prior = st.eng.Clone()
	st.eng = optimistic(st.eng, next)
	st.inFlight = true
	st.gen++
	optimisticCount := st.eng.Total
	s.mu.Unlock()

	slog.Debug("reaction applied optimistically", "post_id", postID, "from", prev, "to", next, "count", optimisticCount)
	s.emit(ctx, domain.EngagementEvent{Kind: domain.EventUpdated, PostID: postID, Reaction: next, Count: optimisticCount})

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	if next == domain.ReactionNone {
		err = s.backend.ClearReaction(callCtx, postID, u.Handle(), prev)
	} else {
		err = s.backend.SetReaction(callCtx, postID, u.Handle(), next)
	}
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reaction failed")
		s.rollback(ctx, postID, err)
		return fmt.Errorf("react to post %s: %w", postID, err)
	}

	sumCtx, cancel := context.WithTimeout(ctx, s.timeout)
	summary, sumErr := s.backend.ReactionSummary(sumCtx, postID)
	cancel()
	if sumErr != nil {
		slog.Warn("reaction saved but summary refresh failed", "post_id", postID, "error", sumErr)
		if errors.Is(sumErr, domain.ErrSessionExpired) {
			s.emit(ctx, domain.EngagementEvent{Kind: domain.EventSessionExpired, PostID: postID, Err: sumErr})
		}
	}
	s.settle(ctx, postID, summary, sumErr == nil)
	return nil
}

// settle moves a post from IN_FLIGHT to SETTLED with the server's values,
// or keeps the optimistic values when the summary could not be read.
func (s *Synchronizer) settle(ctx context.Context, postID string, summary domain.Engagement, haveSummary bool) {
	s.mu.Lock()
	st, ok := s.posts[postID]
	if !ok {
		// dropped by a snapshot while in flight
		s.mu.Unlock()
		return
	}
	if haveSummary {
		st.eng = summary.Clone()
	}
	st.inFlight = false
	st.prior = domain.Engagement{}
	st.gen++
	ev := domain.EngagementEvent{Kind: domain.EventReactionConfirmed, PostID: postID, Reaction: st.eng.UserReaction, Count: st.eng.Total}
	s.mu.Unlock()

	s.emit(ctx, ev)
}

func (s *Synchronizer) rollback(ctx context.Context, postID string, cause error) {
	s.mu.Lock()
	st, ok := s.posts[postID]
	var ev domain.EngagementEvent
	if ok {
		st.eng = st.prior
		st.prior = domain.Engagement{}
		st.inFlight = false
		st.gen++
		ev = domain.EngagementEvent{Kind: domain.EventActionFailed, PostID: postID, Reaction: st.eng.UserReaction, Count: st.eng.Total, Err: cause}
	}
	s.mu.Unlock()

	slog.Warn("reaction rolled back", "post_id", postID, "error", cause)
	if errors.Is(cause, domain.ErrSessionExpired) {
		s.emit(ctx, domain.EngagementEvent{Kind: domain.EventSessionExpired, PostID: postID, Err: cause})
	}
	if ok {
		s.emit(ctx, ev)
	}
}

// Merge reconciles local state with a full, ordered server snapshot.
// Posts absent from the snapshot are dropped and new ones are added settled.
// Posts in flight keep their reaction fields; everything else is replaced.
func (s *Synchronizer) Merge(posts []domain.Post) {
	s.merge(posts, nil)
}

// merge with issued == nil applies the snapshot unconditionally (subject to
// in-flight exclusion). Otherwise a post whose generation moved since the
// snapshot was requested keeps its local engagement.
func (s *Synchronizer) merge(posts []domain.Post, issued map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*postState, len(posts))
	order := make([]string, 0, len(posts))
	for _, p := range posts {
		if p.ID == "" {
			continue
		}
		if _, dup := next[p.ID]; dup {
			continue
		}
		eng := p.Engagement
		p.Engagement = nil

		st, exists := s.posts[p.ID]
		if !exists {
			st = &postState{}
			if eng != nil {
				st.eng = eng.Clone()
			}
		} else if eng != nil && !st.inFlight && (issued == nil || issued[p.ID] == st.gen) {
			st.eng = eng.Clone()
		}
		st.post = p
		next[p.ID] = st
		order = append(order, p.ID)
	}
	s.posts = next
	s.order = order
}

func (s *Synchronizer) generations() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	gens := make(map[string]uint64, len(s.posts))
	for id, st := range s.posts {
		gens[id] = st.gen
	}
	return gens
}

// Refresh fetches the feed and every post's reaction summary, then merges.
// A summary that fails for a reason other than auth leaves that post's
// engagement untouched. Nothing is merged once ctx is done.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "engagement.refresh")
	defer span.End()

	issued := s.generations()

	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	posts, err := s.backend.ListPosts(listCtx)
	cancel()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("list posts: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultSummaryConcurrency)
	for i := range posts {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.timeout)
			defer cancel()
			e, err := s.backend.ReactionSummary(callCtx, posts[i].ID)
			if err != nil {
				if errors.Is(err, domain.ErrSessionExpired) {
					return err
				}
				slog.Debug("reaction summary unavailable", "post_id", posts[i].ID, "error", err)
				return nil
			}
			posts[i].Engagement = &e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("reaction summaries: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.merge(posts, issued)
	span.SetAttributes(attribute.Int("feed.size", len(posts)))
	s.emit(ctx, domain.EngagementEvent{Kind: domain.EventUpdated, Count: len(posts)})
	return nil
}

// Comment posts a comment and bumps the local comment count on success.
func (s *Synchronizer) Comment(ctx context.Context, postID, text string) (domain.Comment, error) {
	u, err := s.user()
	if err != nil {
		return domain.Comment{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	c, err := s.backend.AddComment(callCtx, postID, u.Handle(), text)
	if err != nil {
		if errors.Is(err, domain.ErrSessionExpired) {
			s.emit(ctx, domain.EngagementEvent{Kind: domain.EventSessionExpired, PostID: postID, Err: err})
		}
		return domain.Comment{}, fmt.Errorf("comment on post %s: %w", postID, err)
	}

	s.mu.Lock()
	count := 0
	if st, ok := s.posts[postID]; ok {
		st.post.CommentCount++
		count = st.post.CommentCount
	}
	s.mu.Unlock()

	s.emit(ctx, domain.EngagementEvent{Kind: domain.EventCommentCreated, PostID: postID, Count: count})
	return c, nil
}

// Comments reads one page (0-based) of a post's comments.
func (s *Synchronizer) Comments(ctx context.Context, postID string, page int) (domain.CommentPage, error) {
	if page < 0 {
		page = 0
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.ListComments(callCtx, postID, page, s.pageSize)
}

// Share records a share and bumps the local share count on success.
func (s *Synchronizer) Share(ctx context.Context, postID string) error {
	u, err := s.user()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.Share(callCtx, postID, u.Handle()); err != nil {
		return fmt.Errorf("share post %s: %w", postID, err)
	}
	s.mu.Lock()
	count := 0
	if st, ok := s.posts[postID]; ok {
		st.post.ShareCount++
		count = st.post.ShareCount
	}
	s.mu.Unlock()
	s.emit(ctx, domain.EngagementEvent{Kind: domain.EventUpdated, PostID: postID, Count: count})
	return nil
}

// View returns the feed in server order.
func (s *Synchronizer) View() []PostView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PostView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.posts[id].view())
	}
	return out
}

func (s *Synchronizer) Post(postID string) (PostView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.posts[postID]
	if !ok {
		return PostView{}, false
	}
	return st.view(), true
}

// Snapshot returns the feed with last server-confirmed engagement, suitable for persistence.
func (s *Synchronizer) Snapshot() []domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Post, 0, len(s.order))
	for _, id := range s.order {
		st := s.posts[id]
		p := st.post
		e := st.confirmed()
		p.Engagement = &e
		out = append(out, p)
	}
	return out
}
