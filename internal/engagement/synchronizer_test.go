package engagement

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

type fakeTokens struct {
	user domain.User
	ok   bool
}

func (f fakeTokens) Token() string {
	if f.ok {
		return "token"
	}
	return ""
}

func (f fakeTokens) CurrentUser() (domain.User, bool) { return f.user, f.ok }

var viewer = fakeTokens{user: domain.User{ID: "7", Username: "mina"}, ok: true}

type fakeBackend struct {
	mu         sync.Mutex
	posts      []domain.Post
	summaries  map[string]domain.Engagement
	summaryErr map[string]error
	listErr    error
	reactErr   error
	commentErr error

	// when set, ListPosts signals listEntered and waits for listRelease
	listEntered chan struct{}
	listRelease chan struct{}
	// when set, SetReaction/ClearReaction wait for reactRelease or ctx
	reactRelease chan struct{}
	// ReactionSummary for a post in summaryHold waits until its channel closes
	summaryHold map[string]chan struct{}

	listCalls    int
	summaryCalls map[string]int
	reactions    []string
}

func newFakeBackend(posts ...domain.Post) *fakeBackend {
	return &fakeBackend{
		posts:      posts,
		summaries:    make(map[string]domain.Engagement),
		summaryErr:   make(map[string]error),
		summaryHold:  make(map[string]chan struct{}),
		summaryCalls: make(map[string]int),
	}
}

func (f *fakeBackend) ListPosts(ctx context.Context) ([]domain.Post, error) {
	f.mu.Lock()
	f.listCalls++
	entered, release := f.listEntered, f.listRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Post(nil), f.posts...), nil
}

func (f *fakeBackend) ReactionSummary(ctx context.Context, postID string) (domain.Engagement, error) {
	f.mu.Lock()
	f.summaryCalls[postID]++
	hold := f.summaryHold[postID]
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return domain.Engagement{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.summaryErr[postID]; err != nil {
		return domain.Engagement{}, err
	}
	return f.summaries[postID].Clone(), nil
}

func (f *fakeBackend) react(ctx context.Context, call string) error {
	f.mu.Lock()
	release := f.reactRelease
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, call)
	return f.reactErr
}

func (f *fakeBackend) SetReaction(ctx context.Context, postID, username string, t domain.ReactionType) error {
	return f.react(ctx, "set "+postID+" "+username+" "+string(t))
}

func (f *fakeBackend) ClearReaction(ctx context.Context, postID, username string, t domain.ReactionType) error {
	return f.react(ctx, "clear "+postID+" "+username+" "+string(t))
}

func (f *fakeBackend) Share(ctx context.Context, postID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commentErr
}

func (f *fakeBackend) ListComments(ctx context.Context, postID string, page, size int) (domain.CommentPage, error) {
	return domain.CommentPage{Page: page, Size: size, Last: true}, nil
}

func (f *fakeBackend) AddComment(ctx context.Context, postID, username, text string) (domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return domain.Comment{}, f.commentErr
	}
	return domain.Comment{ID: "c1", PostID: postID, Author: domain.Author{Name: username}, Text: text}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.EngagementEvent
}

func (r *recorder) Notify(ctx context.Context, ev domain.EngagementEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) has(kind domain.EventKind) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func eng(total int, mine domain.ReactionType, counts map[domain.ReactionType]int) *domain.Engagement {
	return &domain.Engagement{Total: total, UserReaction: mine, Counts: counts}
}

func post(id string, e *domain.Engagement) domain.Post {
	return domain.Post{ID: id, Content: "post " + id, Author: domain.Author{Name: "ana"}, Engagement: e}
}

func newTestSync(b *fakeBackend, timeout time.Duration) (*Synchronizer, *recorder) {
	rec := &recorder{}
	s := NewSynchronizer(b, viewer, Options{Timeout: timeout, Notifiers: []ports.Notifier{rec}})
	return s, rec
}

func mustView(t *testing.T, s *Synchronizer, id string) PostView {
	t.Helper()
	v, ok := s.Post(id)
	if !ok {
		t.Fatalf("post %s missing from view", id)
	}
	return v
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOptimisticCountRule(t *testing.T) {
	like := domain.ReactionLike
	love := domain.ReactionLove
	cases := []struct {
		name      string
		start     domain.Engagement
		next      domain.ReactionType
		total     int
		counts    map[domain.ReactionType]int
		userReact domain.ReactionType
	}{
		{"add from none", *eng(3, "", map[domain.ReactionType]int{love: 3}), like, 4, map[domain.ReactionType]int{love: 3, like: 1}, like},
		{"clear", *eng(4, like, map[domain.ReactionType]int{love: 3, like: 1}), domain.ReactionNone, 3, map[domain.ReactionType]int{love: 3}, ""},
		{"switch keeps total", *eng(4, like, map[domain.ReactionType]int{love: 3, like: 1}), love, 4, map[domain.ReactionType]int{love: 4}, love},
		{"clear never below zero", *eng(0, like, nil), domain.ReactionNone, 0, map[domain.ReactionType]int{}, ""},
		{"add on empty map", *eng(0, "", nil), like, 1, map[domain.ReactionType]int{like: 1}, like},
	}
	for _, c := range cases {
		got := optimistic(c.start, c.next)
		if got.Total != c.total {
			t.Fatalf("%s: total = %d, want %d", c.name, got.Total, c.total)
		}
		if !reflect.DeepEqual(got.Counts, c.counts) {
			t.Fatalf("%s: counts = %v, want %v", c.name, got.Counts, c.counts)
		}
		if got.UserReaction != c.userReact {
			t.Fatalf("%s: user reaction = %q, want %q", c.name, got.UserReaction, c.userReact)
		}
	}
}

func TestOptimisticDoesNotMutateInput(t *testing.T) {
	start := *eng(1, domain.ReactionLike, map[domain.ReactionType]int{domain.ReactionLike: 1})
	_ = optimistic(start, domain.ReactionNone)
	if start.Counts[domain.ReactionLike] != 1 || start.Total != 1 {
		t.Fatalf("input engagement was modified: %+v", start)
	}
}

func TestResolveTargetToggles(t *testing.T) {
	cases := []struct {
		current, picked, want domain.ReactionType
	}{
		{"", domain.ReactionLike, domain.ReactionLike},
		{domain.ReactionLike, domain.ReactionLike, ""},
		{domain.ReactionLike, domain.ReactionWow, domain.ReactionWow},
		{domain.ReactionLike, "", ""},
	}
	for i, c := range cases {
		if got := resolveTarget(c.current, c.picked); got != c.want {
			t.Fatalf("case %d: got %q, want %q", i, got, c.want)
		}
	}
}

func TestApplyConfirmsWithServerSummary(t *testing.T) {
	b := newFakeBackend()
	s, rec := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(2, "", map[domain.ReactionType]int{domain.ReactionLove: 2}))})

	// the server also saw another reaction meanwhile
	b.summaries["1"] = *eng(4, domain.ReactionLike, map[domain.ReactionType]int{domain.ReactionLove: 3, domain.ReactionLike: 1})

	if err := s.Apply(context.Background(), "1", domain.ReactionLike); err != nil {
		t.Fatalf("apply: %v", err)
	}
	v := mustView(t, s, "1")
	if v.InFlight {
		t.Fatalf("post still in flight after confirm")
	}
	if v.Engagement.Total != 4 || v.Engagement.UserReaction != domain.ReactionLike {
		t.Fatalf("server summary not adopted: %+v", v.Engagement)
	}
	if got := b.reactions; len(got) != 1 || got[0] != "set 1 mina LIKE" {
		t.Fatalf("unexpected backend calls: %v", got)
	}
	want := []domain.EventKind{domain.EventUpdated, domain.EventReactionConfirmed}
	if !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("events = %v, want %v", rec.kinds(), want)
	}
}

func TestApplySameReactionClears(t *testing.T) {
	b := newFakeBackend()
	s, _ := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(1, domain.ReactionHaha, map[domain.ReactionType]int{domain.ReactionHaha: 1}))})
	b.summaries["1"] = domain.Engagement{}

	if err := s.Apply(context.Background(), "1", domain.ReactionHaha); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := b.reactions; len(got) != 1 || got[0] != "clear 1 mina HAHA" {
		t.Fatalf("expected a clear call, got %v", got)
	}
	v := mustView(t, s, "1")
	if v.Engagement.Total != 0 || v.Engagement.UserReaction != domain.ReactionNone {
		t.Fatalf("reaction not cleared: %+v", v.Engagement)
	}
}

func TestApplyKeepsOptimisticValueWhenSummaryFails(t *testing.T) {
	b := newFakeBackend()
	s, rec := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(0, "", nil))})
	b.summaryErr["1"] = errors.New("boom")

	if err := s.Apply(context.Background(), "1", domain.ReactionWow); err != nil {
		t.Fatalf("apply: %v", err)
	}
	v := mustView(t, s, "1")
	if v.InFlight || v.Engagement.Total != 1 || v.Engagement.UserReaction != domain.ReactionWow {
		t.Fatalf("unexpected state: %+v in flight=%t", v.Engagement, v.InFlight)
	}
	if !rec.has(domain.EventReactionConfirmed) {
		t.Fatalf("expected confirm event, got %v", rec.kinds())
	}
}

func TestApplyRollsBackExactly(t *testing.T) {
	start := eng(5, domain.ReactionLove, map[domain.ReactionType]int{domain.ReactionLove: 4, domain.ReactionSad: 1})
	start.RecentReactors = []domain.Reactor{{Name: "ana", Type: domain.ReactionLove}}

	for _, picked := range []domain.ReactionType{domain.ReactionLove, domain.ReactionSad, domain.ReactionAngry} {
		b := newFakeBackend()
		b.reactErr = errors.New("server error")
		s, rec := newTestSync(b, time.Second)
		s.Merge([]domain.Post{post("1", start)})
		before := mustView(t, s, "1")

		err := s.Apply(context.Background(), "1", picked)
		if err == nil {
			t.Fatalf("%s: expected error", picked)
		}
		after := mustView(t, s, "1")
		if !reflect.DeepEqual(before, after) {
			t.Fatalf("%s: rollback not exact\nbefore %+v\nafter  %+v", picked, before, after)
		}
		if !rec.has(domain.EventActionFailed) {
			t.Fatalf("%s: expected failure event, got %v", picked, rec.kinds())
		}
	}
}

func TestApplyTimeoutRollsBack(t *testing.T) {
	b := newFakeBackend()
	b.reactRelease = make(chan struct{}) // never released
	s, rec := newTestSync(b, 20*time.Millisecond)
	s.Merge([]domain.Post{post("1", eng(0, "", nil))})

	err := s.Apply(context.Background(), "1", domain.ReactionLike)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	v := mustView(t, s, "1")
	if v.InFlight || v.Engagement.Total != 0 || v.Engagement.UserReaction != domain.ReactionNone {
		t.Fatalf("timeout did not roll back: %+v", v)
	}
	if !rec.has(domain.EventActionFailed) {
		t.Fatalf("expected failure event, got %v", rec.kinds())
	}
}

func TestApplyAuthFailureEmitsSessionExpired(t *testing.T) {
	b := newFakeBackend()
	b.reactErr = domain.ErrSessionExpired
	s, rec := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(0, "", nil))})

	if err := s.Apply(context.Background(), "1", domain.ReactionLike); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if !rec.has(domain.EventSessionExpired) {
		t.Fatalf("expected session expired event, got %v", rec.kinds())
	}
}

// reactionServer keeps the authoritative reactions of post "1": a fixed
// set from other users plus the viewer's own.
type reactionServer struct {
	*fakeBackend
	others map[domain.ReactionType]int
	mine   domain.ReactionType
	failAt map[int]bool
	calls  int
}

func (r *reactionServer) mutate(next domain.ReactionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAt[r.calls] {
		return errors.New("server error")
	}
	r.mine = next
	return nil
}

func (r *reactionServer) SetReaction(ctx context.Context, postID, username string, t domain.ReactionType) error {
	return r.mutate(t)
}

func (r *reactionServer) ClearReaction(ctx context.Context, postID, username string, t domain.ReactionType) error {
	return r.mutate(domain.ReactionNone)
}

func (r *reactionServer) ReactionSummary(ctx context.Context, postID string) (domain.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := domain.Engagement{Counts: make(map[domain.ReactionType]int), UserReaction: r.mine}
	for t, n := range r.others {
		e.Counts[t] += n
		e.Total += n
	}
	if r.mine != domain.ReactionNone {
		e.Counts[r.mine]++
		e.Total++
	}
	return e, nil
}

func TestReactionSequencesConvergeOnServerCount(t *testing.T) {
	like, love, sad := domain.ReactionLike, domain.ReactionLove, domain.ReactionSad
	cases := []struct {
		name   string
		steps  []domain.ReactionType
		failAt []int
	}{
		{"add then toggle off", []domain.ReactionType{like, like}, nil},
		{"switch chain", []domain.ReactionType{like, love, sad, love}, nil},
		{"mixed", []domain.ReactionType{love, love, like, sad, sad, like, love}, nil},
		{"clear from none", []domain.ReactionType{"", like, ""}, nil},
		{"failures in between", []domain.ReactionType{like, love, love, sad, like}, []int{2, 4}},
		{"every call fails", []domain.ReactionType{like, love, like}, []int{1, 2, 3}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := &reactionServer{
				fakeBackend: newFakeBackend(post("1", nil)),
				others:      map[domain.ReactionType]int{like: 3, love: 2},
				failAt:      make(map[int]bool),
			}
			for _, n := range c.failAt {
				srv.failAt[n] = true
			}
			s := NewSynchronizer(srv, viewer, Options{Timeout: time.Second})
			if err := s.Refresh(context.Background()); err != nil {
				t.Fatalf("initial refresh: %v", err)
			}

			for i, picked := range c.steps {
				_ = s.Apply(context.Background(), "1", picked)
				want, _ := srv.ReactionSummary(context.Background(), "1")
				got := mustView(t, s, "1").Engagement
				if got.Total != want.Total || got.UserReaction != want.UserReaction {
					t.Fatalf("step %d (%q): local %d/%q, server %d/%q", i, picked, got.Total, got.UserReaction, want.Total, want.UserReaction)
				}
			}

			if err := s.Refresh(context.Background()); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			want, _ := srv.ReactionSummary(context.Background(), "1")
			got := mustView(t, s, "1").Engagement
			if got.Total != want.Total || got.UserReaction != want.UserReaction || !reflect.DeepEqual(got.Counts, want.Counts) {
				t.Fatalf("after merge: local %+v, server %+v", got, want)
			}
		})
	}
}

func TestApplyRejectsSecondActionWhileInFlight(t *testing.T) {
	b := newFakeBackend()
	b.reactRelease = make(chan struct{})
	b.summaries["1"] = *eng(1, domain.ReactionLike, map[domain.ReactionType]int{domain.ReactionLike: 1})
	s, _ := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(0, "", nil))})

	done := make(chan error, 1)
	go func() { done <- s.Apply(context.Background(), "1", domain.ReactionLike) }()
	waitFor(t, func() bool { return mustView(t, s, "1").InFlight })

	if err := s.Apply(context.Background(), "1", domain.ReactionLove); !errors.Is(err, domain.ErrActionInFlight) {
		t.Fatalf("expected ErrActionInFlight, got %v", err)
	}
	if v := mustView(t, s, "1"); v.Engagement.UserReaction != domain.ReactionLike || v.Engagement.Total != 1 {
		t.Fatalf("optimistic value not shown while in flight: %+v", v.Engagement)
	}

	close(b.reactRelease)
	if err := <-done; err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if len(b.reactions) != 1 {
		t.Fatalf("expected exactly one backend mutation, got %v", b.reactions)
	}
}

func TestApplyPreconditions(t *testing.T) {
	b := newFakeBackend()
	s := NewSynchronizer(b, fakeTokens{}, Options{})
	s.Merge([]domain.Post{post("1", nil)})
	if err := s.Apply(context.Background(), "1", domain.ReactionLike); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}

	s, _ = newTestSync(b, time.Second)
	if err := s.Apply(context.Background(), "missing", domain.ReactionLike); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s.Merge([]domain.Post{post("1", nil)})
	if err := s.Apply(context.Background(), "1", domain.ReactionNone); err != nil {
		t.Fatalf("clearing nothing should be a no-op, got %v", err)
	}
	if len(b.reactions) != 0 {
		t.Fatalf("no-op issued backend calls: %v", b.reactions)
	}
}

func TestMergeFollowsSnapshotOrder(t *testing.T) {
	s, _ := newTestSync(newFakeBackend(), time.Second)
	s.Merge([]domain.Post{post("1", nil), post("2", nil), post("3", nil)})
	s.Merge([]domain.Post{post("3", nil), post("4", nil), post("1", nil)})

	var ids []string
	for _, v := range s.View() {
		ids = append(ids, v.ID)
	}
	if want := []string{"3", "4", "1"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}
	if _, ok := s.Post("2"); ok {
		t.Fatalf("post 2 should have been dropped")
	}
}

func TestMergeSparesInFlightEngagement(t *testing.T) {
	b := newFakeBackend()
	b.reactRelease = make(chan struct{})
	b.summaries["1"] = *eng(1, domain.ReactionLike, map[domain.ReactionType]int{domain.ReactionLike: 1})
	s, _ := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(0, "", nil))})

	done := make(chan error, 1)
	go func() { done <- s.Apply(context.Background(), "1", domain.ReactionLike) }()
	waitFor(t, func() bool { return mustView(t, s, "1").InFlight })

	stale := post("1", eng(9, domain.ReactionNone, map[domain.ReactionType]int{domain.ReactionSad: 9}))
	stale.Content = "edited"
	stale.CommentCount = 3
	s.Merge([]domain.Post{stale})

	v := mustView(t, s, "1")
	if v.Engagement.Total != 1 || v.Engagement.UserReaction != domain.ReactionLike {
		t.Fatalf("in-flight engagement overwritten: %+v", v.Engagement)
	}
	if v.Content != "edited" || v.CommentCount != 3 {
		t.Fatalf("independent fields not applied: %+v", v.Post)
	}

	close(b.reactRelease)
	if err := <-done; err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestMergeWithoutSummaryKeepsLocalEngagement(t *testing.T) {
	s, _ := newTestSync(newFakeBackend(), time.Second)
	s.Merge([]domain.Post{post("1", eng(3, domain.ReactionLike, map[domain.ReactionType]int{domain.ReactionLike: 3}))})
	s.Merge([]domain.Post{post("1", nil)})
	if v := mustView(t, s, "1"); v.Engagement.Total != 3 {
		t.Fatalf("engagement lost on summary-less merge: %+v", v.Engagement)
	}
}

func TestRefreshLatestRequestWins(t *testing.T) {
	b := newFakeBackend(post("1", nil))
	b.summaries["1"] = domain.Engagement{}
	s, _ := newTestSync(b, time.Second)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	b.mu.Lock()
	b.listEntered = make(chan struct{})
	b.listRelease = make(chan struct{})
	b.mu.Unlock()

	refreshed := make(chan error, 1)
	go func() { refreshed <- s.Refresh(context.Background()) }()
	<-b.listEntered

	// a reaction is issued and confirmed after the refresh was requested
	b.mu.Lock()
	b.listEntered = nil
	b.summaries["1"] = *eng(1, domain.ReactionLike, map[domain.ReactionType]int{domain.ReactionLike: 1})
	b.mu.Unlock()
	if err := s.Apply(context.Background(), "1", domain.ReactionLike); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// the older refresh now answers with pre-reaction data
	b.mu.Lock()
	b.summaries["1"] = domain.Engagement{}
	b.mu.Unlock()
	close(b.listRelease)
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh: %v", err)
	}

	v := mustView(t, s, "1")
	if v.Engagement.Total != 1 || v.Engagement.UserReaction != domain.ReactionLike {
		t.Fatalf("stale refresh overwrote newer state: %+v", v.Engagement)
	}

	// the next refresh is newer than the reaction and is applied
	b.mu.Lock()
	b.listRelease = nil
	b.mu.Unlock()
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if v := mustView(t, s, "1"); v.Engagement.Total != 0 {
		t.Fatalf("fresh refresh not applied: %+v", v.Engagement)
	}
}

func TestRefreshStartedInFlightDoesNotUndoSettle(t *testing.T) {
	b := newFakeBackend(post("A", nil), post("B", nil))
	b.summaries["A"] = *eng(10, "", map[domain.ReactionType]int{domain.ReactionLike: 10})
	b.summaries["B"] = domain.Engagement{}
	s, _ := newTestSync(b, time.Second)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	b.mu.Lock()
	b.reactRelease = make(chan struct{})
	b.summaryCalls["A"] = 0
	b.mu.Unlock()
	applied := make(chan error, 1)
	go func() { applied <- s.Apply(context.Background(), "A", domain.ReactionLove) }()
	waitFor(t, func() bool { return mustView(t, s, "A").InFlight })

	// the refresh reads A before the server has processed the reaction,
	// and is held back on B until the reaction has settled
	holdB := make(chan struct{})
	b.mu.Lock()
	b.summaryHold["B"] = holdB
	b.mu.Unlock()
	refreshed := make(chan error, 1)
	go func() { refreshed <- s.Refresh(context.Background()) }()
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.summaryCalls["A"] >= 1 && b.summaryCalls["B"] >= 2
	})

	b.mu.Lock()
	b.summaries["A"] = *eng(11, domain.ReactionLove, map[domain.ReactionType]int{domain.ReactionLike: 10, domain.ReactionLove: 1})
	b.mu.Unlock()
	close(b.reactRelease)
	if err := <-applied; err != nil {
		t.Fatalf("apply: %v", err)
	}
	if v := mustView(t, s, "A"); v.Engagement.Total != 11 || v.Engagement.UserReaction != domain.ReactionLove {
		t.Fatalf("settle not applied: %+v", v.Engagement)
	}

	close(holdB)
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if v := mustView(t, s, "A"); v.Engagement.Total != 11 || v.Engagement.UserReaction != domain.ReactionLove {
		t.Fatalf("refresh issued before settle overwrote it: %+v", v.Engagement)
	}

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if v := mustView(t, s, "A"); v.Engagement.Total != 11 {
		t.Fatalf("later refresh not applied: %+v", v.Engagement)
	}
}

func TestRefreshSummaryFailureKeepsLocalEngagement(t *testing.T) {
	b := newFakeBackend(post("1", nil), post("2", nil))
	b.summaries["1"] = *eng(2, "", map[domain.ReactionType]int{domain.ReactionWow: 2})
	b.summaries["2"] = *eng(1, "", map[domain.ReactionType]int{domain.ReactionLike: 1})
	s, _ := newTestSync(b, time.Second)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	b.summaryErr["1"] = errors.New("unavailable")
	b.summaries["2"] = *eng(5, "", map[domain.ReactionType]int{domain.ReactionLike: 5})
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if v := mustView(t, s, "1"); v.Engagement.Total != 2 {
		t.Fatalf("post 1 lost its engagement: %+v", v.Engagement)
	}
	if v := mustView(t, s, "2"); v.Engagement.Total != 5 {
		t.Fatalf("post 2 not updated: %+v", v.Engagement)
	}
}

func TestRefreshAuthFailure(t *testing.T) {
	b := newFakeBackend(post("1", nil))
	b.summaryErr["1"] = domain.ErrSessionExpired
	s, _ := newTestSync(b, time.Second)
	if err := s.Refresh(context.Background()); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
	if len(s.View()) != 0 {
		t.Fatalf("nothing should be merged on auth failure")
	}
}

func TestRefresherStopPreventsLaterMerges(t *testing.T) {
	b := newFakeBackend(post("1", nil))
	s, _ := newTestSync(b, time.Second)
	r := s.Schedule(context.Background(), 5*time.Millisecond)
	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.listCalls >= 2
	})
	r.Stop()
	r.Stop()

	b.mu.Lock()
	calls := b.listCalls
	b.posts = []domain.Post{post("2", nil)}
	b.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listCalls != calls {
		t.Fatalf("refresh ran after Stop: %d calls, was %d", b.listCalls, calls)
	}
	if _, ok := s.Post("2"); ok {
		t.Fatalf("merge happened after Stop")
	}
}

func TestRefresherStopCancelsPendingPoll(t *testing.T) {
	b := newFakeBackend(post("2", nil))
	b.listEntered = make(chan struct{}, 1)
	b.listRelease = make(chan struct{}) // never released
	s, _ := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", nil)})

	r := s.Schedule(context.Background(), time.Millisecond)
	<-b.listEntered
	r.Stop()

	if _, ok := s.Post("2"); ok {
		t.Fatalf("cancelled poll was merged")
	}
	if _, ok := s.Post("1"); !ok {
		t.Fatalf("existing view lost")
	}
}

func TestRefresherEndsOnSessionExpiry(t *testing.T) {
	b := newFakeBackend()
	b.listErr = domain.ErrSessionExpired
	s, rec := newTestSync(b, time.Second)
	r := s.Schedule(context.Background(), time.Millisecond)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("refresher kept running after auth failure")
	}
	if !rec.has(domain.EventSessionExpired) {
		t.Fatalf("expected session expired event, got %v", rec.kinds())
	}
	r.Stop()
}

func TestCommentAndShareCountOnSuccessOnly(t *testing.T) {
	b := newFakeBackend()
	s, rec := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", nil)})

	c, err := s.Comment(context.Background(), "1", "nice")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.Author.Name != "mina" || c.Text != "nice" {
		t.Fatalf("unexpected comment %+v", c)
	}
	if err := s.Share(context.Background(), "1"); err != nil {
		t.Fatalf("share: %v", err)
	}
	v := mustView(t, s, "1")
	if v.CommentCount != 1 || v.ShareCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", v.CommentCount, v.ShareCount)
	}
	if !rec.has(domain.EventCommentCreated) {
		t.Fatalf("expected comment event, got %v", rec.kinds())
	}

	b.commentErr = errors.New("down")
	if _, err := s.Comment(context.Background(), "1", "again"); err == nil {
		t.Fatalf("expected comment error")
	}
	if err := s.Share(context.Background(), "1"); err == nil {
		t.Fatalf("expected share error")
	}
	v = mustView(t, s, "1")
	if v.CommentCount != 1 || v.ShareCount != 1 {
		t.Fatalf("failed calls changed counts: %d/%d", v.CommentCount, v.ShareCount)
	}
}

func TestSnapshotUsesConfirmedEngagement(t *testing.T) {
	b := newFakeBackend()
	b.reactRelease = make(chan struct{})
	s, _ := newTestSync(b, time.Second)
	s.Merge([]domain.Post{post("1", eng(2, "", map[domain.ReactionType]int{domain.ReactionLike: 2}))})

	done := make(chan error, 1)
	go func() { done <- s.Apply(context.Background(), "1", domain.ReactionLove) }()
	waitFor(t, func() bool { return mustView(t, s, "1").InFlight })

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Engagement == nil || snap[0].Engagement.Total != 2 || snap[0].Engagement.UserReaction != domain.ReactionNone {
		t.Fatalf("snapshot carries unconfirmed values: %+v", snap)
	}
	close(b.reactRelease)
	<-done
}

func TestReactorSummary(t *testing.T) {
	ana := []domain.Reactor{{Name: "Ana"}}
	cases := []struct {
		total    int
		reactors []domain.Reactor
		want     string
	}{
		{0, nil, ""},
		{1, nil, "1 reaction"},
		{4, nil, "4 reactions"},
		{1, ana, "Ana reacted"},
		{2, ana, "Ana and 1 other reacted"},
		{5, ana, "Ana and 4 others reacted"},
		{3, []domain.Reactor{{Name: ""}, {Name: "Bo"}}, "Bo and 2 others reacted"},
	}
	for i, c := range cases {
		v := PostView{Engagement: domain.Engagement{Total: c.total, RecentReactors: c.reactors}}
		if got := v.ReactorSummary(); got != c.want {
			t.Fatalf("case %d: got %q, want %q", i, got, c.want)
		}
	}
}
