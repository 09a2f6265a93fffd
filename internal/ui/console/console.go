package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
	"ardu-agent/internal/engagement"
)

// Terminal is the render layer: it prints the feed, surfaces transient
// failures and answers review prompts from stdin lines.
type Terminal struct {
	out   io.Writer
	lines <-chan string

	mu      sync.Mutex
	expired chan struct{}
	once    sync.Once
}

func NewTerminal(out io.Writer, lines <-chan string) *Terminal {
	return &Terminal{out: out, lines: lines, expired: make(chan struct{})}
}

var (
	_ ports.Notifier    = (*Terminal)(nil)
	_ ports.Interaction = (*Terminal)(nil)
)

// Expired is closed the first time a session-expired event arrives.
func (t *Terminal) Expired() <-chan struct{} {
	return t.expired
}

func (t *Terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *Terminal) Notify(ctx context.Context, ev domain.EngagementEvent) {
	switch ev.Kind {
	case domain.EventActionFailed:
		t.Printf("⚠️  Reaction on %s failed and was undone: %s\n", ev.PostID, describeErr(ev.Err))
	case domain.EventReactionConfirmed:
		t.Printf("✔ %s now has %d reaction(s)\n", ev.PostID, ev.Count)
	case domain.EventSessionExpired:
		t.once.Do(func() {
			t.Printf("🔒 Session expired. Please log in again.\n")
			close(t.expired)
		})
	}
}

func describeErr(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, context.DeadlineExceeded):
		return "the server did not answer in time"
	case errors.Is(err, domain.ErrSessionExpired):
		return "session expired"
	}
	return err.Error()
}

// Confirm asks on the terminal; anything other than a/r is a skip.
func (t *Terminal) Confirm(ctx context.Context, title, body string) (ports.UserAction, error) {
	t.Printf("\n%s\n%s\n[a]pprove / [r]eject / [s]kip > ", title, body)
	select {
	case <-ctx.Done():
		return ports.ActionSkip, ctx.Err()
	case line, ok := <-t.lines:
		if !ok {
			return ports.ActionSkip, io.EOF
		}
		return ParseAction(line), nil
	}
}

func ParseAction(line string) ports.UserAction {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "approve", "y", "yes":
		return ports.ActionApprove
	case "r", "reject", "n", "no":
		return ports.ActionReject
	}
	return ports.ActionSkip
}

// RenderFeed prints every post with its engagement line.
func (t *Terminal) RenderFeed(views []engagement.PostView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(views) == 0 {
		fmt.Fprintln(t.out, "(feed is empty)")
		return
	}
	for _, v := range views {
		fmt.Fprint(t.out, FormatPost(v, time.Now()))
	}
}

func FormatPost(v engagement.PostView, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n#%s  %s · %s\n", v.ID, v.Author.Name, Ago(v.CreatedAt, now))
	if v.Content != "" {
		fmt.Fprintf(&b, "  %s\n", v.Content)
	}
	if v.MediaURL != "" {
		fmt.Fprintf(&b, "  [%s] %s\n", v.MediaKind, v.MediaURL)
	}

	var counts []string
	for _, rt := range domain.ReactionTypes {
		if n := v.Engagement.Counts[rt]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s %d", rt.Emoji(), n))
		}
	}
	line := strings.Join(counts, "  ")
	if summary := v.ReactorSummary(); summary != "" {
		if line != "" {
			line += "  · "
		}
		line += summary
	}
	if line != "" {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	mine := "react"
	if v.Engagement.UserReaction != domain.ReactionNone {
		mine = v.Engagement.UserReaction.Emoji() + " " + strings.ToLower(string(v.Engagement.UserReaction))
	}
	if v.InFlight {
		mine += " (saving…)"
	}
	fmt.Fprintf(&b, "  [%s]  💬 %d  ↗ %d\n", mine, v.CommentCount, v.ShareCount)
	return b.String()
}

func (t *Terminal) RenderComments(page domain.CommentPage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(page.Comments) == 0 {
		fmt.Fprintln(t.out, "(no comments)")
		return
	}
	now := time.Now()
	for _, c := range page.Comments {
		fmt.Fprintf(t.out, "  %s (%s): %s\n", c.Author.Name, Ago(c.CreatedAt, now), c.Text)
	}
	if !page.Last {
		fmt.Fprintf(t.out, "  … more: comments <post> %d\n", page.Page+1)
	}
}

// Ago renders a coarse relative time.
func Ago(at, now time.Time) string {
	if at.IsZero() {
		return "some time ago"
	}
	d := now.Sub(at)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
	return at.Format("2006-01-02")
}
