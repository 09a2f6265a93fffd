package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/engagement"
	"ardu-agent/internal/review"
	"ardu-agent/internal/session"
	"ardu-agent/internal/sites/ardu"
	"ardu-agent/internal/ui/console"
)

type app struct {
	client *ardu.Client
	sync   *engagement.Synchronizer
	sess   *session.Manager
	queue  *review.Queue
	term   *console.Terminal
}

const help = `commands:
  feed                      show the feed
  refresh                   fetch the feed now
  react <post> <type>       like|love|haha|wow|sad|angry (same type again clears)
  unreact <post>            clear your reaction
  comment <post> <text>     add a comment
  comments <post> [page]    list comments (page starts at 0)
  share <post>              share a post
  post <text> [image-url]   create a post (goes to review)
  mine                      list your posts with their status
  delete <post>             delete one of your posts
  bio <text>                update your profile bio
  review                    admin review queue
  me                        show your profile
  logout                    end the session and quit
  quit                      quit
`

func (a *app) printHelp() {
	a.term.Printf("%s", help)
}

// handle runs one command line and reports whether the agent should exit.
func (a *app) handle(ctx context.Context, line string) bool {
	cmd, rest := splitCommand(line)
	cmd = strings.ToLower(cmd)
	args := strings.Fields(rest)

	switch cmd {
	case "":
	case "help", "?":
		a.printHelp()
	case "feed":
		a.term.RenderFeed(a.sync.View())
	case "refresh":
		if err := a.sync.Refresh(ctx); err != nil {
			a.fail("refresh", err)
			return false
		}
		a.term.RenderFeed(a.sync.View())
	case "react":
		if len(args) < 2 {
			a.term.Printf("usage: react <post> <type>\n")
			return false
		}
		rt, ok := domain.ParseReactionType(args[1])
		if !ok {
			a.term.Printf("unknown reaction %q\n", args[1])
			return false
		}
		a.react(ctx, args[0], rt)
	case "unreact":
		if len(args) < 1 {
			a.term.Printf("usage: unreact <post>\n")
			return false
		}
		v, ok := a.sync.Post(args[0])
		if !ok {
			a.term.Printf("no post %s\n", args[0])
			return false
		}
		if v.Engagement.UserReaction == domain.ReactionNone {
			return false
		}
		a.react(ctx, args[0], v.Engagement.UserReaction)
	case "comment":
		postID, text := splitCommand(rest)
		if postID == "" || strings.TrimSpace(text) == "" {
			a.term.Printf("usage: comment <post> <text>\n")
			return false
		}
		if _, err := a.sync.Comment(ctx, postID, strings.TrimSpace(text)); err != nil {
			a.fail("comment", err)
			return false
		}
		a.term.Printf("💬 Comment added\n")
	case "comments":
		if len(args) < 1 {
			a.term.Printf("usage: comments <post> [page]\n")
			return false
		}
		page := 0
		if len(args) > 1 {
			page, _ = strconv.Atoi(args[1])
		}
		p, err := a.sync.Comments(ctx, args[0], page)
		if err != nil {
			a.fail("comments", err)
			return false
		}
		a.term.RenderComments(p)
	case "share":
		if len(args) < 1 {
			a.term.Printf("usage: share <post>\n")
			return false
		}
		if err := a.sync.Share(ctx, args[0]); err != nil {
			a.fail("share", err)
			return false
		}
		a.term.Printf("↗ Shared\n")
	case "post":
		a.createPost(ctx, args)
	case "mine":
		a.myPosts(ctx)
	case "delete":
		if len(args) < 1 {
			a.term.Printf("usage: delete <post>\n")
			return false
		}
		if err := a.client.DeletePost(ctx, args[0]); err != nil {
			a.fail("delete", err)
			return false
		}
		a.term.Printf("🗑 Deleted %s\n", args[0])
	case "bio":
		a.updateBio(ctx, strings.TrimSpace(rest))
	case "review":
		res, err := a.queue.Run(ctx)
		if err != nil {
			a.fail("review", err)
			return false
		}
		a.term.Printf("Review done: %d approved, %d rejected, %d skipped\n", res.Approved, res.Rejected, res.Skipped)
		if res.Failed > 0 {
			a.term.Printf("⚠️ %d decisions were not saved by the server, run review again\n", res.Failed)
		}
	case "me":
		a.showProfile(ctx)
	case "logout":
		if err := a.sess.End(ctx); err != nil {
			slog.Warn("failed to clear session", "error", err)
		}
		a.term.Printf("👋 Logged out\n")
		return true
	case "quit", "exit":
		return true
	default:
		a.term.Printf("unknown command %q, type help\n", cmd)
	}
	return false
}

func (a *app) react(ctx context.Context, postID string, rt domain.ReactionType) {
	err := a.sync.Apply(ctx, postID, rt)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrActionInFlight):
		a.term.Printf("⏳ Still saving your last reaction on %s\n", postID)
	case errors.Is(err, domain.ErrNotFound):
		a.term.Printf("no post %s\n", postID)
	default:
		// failure is already surfaced through the event stream
		slog.Debug("reaction failed", "post_id", postID, "error", err)
	}
}

func (a *app) createPost(ctx context.Context, args []string) {
	if len(args) == 0 {
		a.term.Printf("usage: post <text> [image-url]\n")
		return
	}
	u, _ := a.sess.CurrentUser()
	np := ardu.NewPost{UserID: u.ID}
	if last := args[len(args)-1]; len(args) > 1 && (strings.HasPrefix(last, "http://") || strings.HasPrefix(last, "https://")) {
		np.ImageURL = last
		args = args[:len(args)-1]
	}
	np.Caption = strings.Join(args, " ")
	p, err := a.client.CreatePost(ctx, np)
	if err != nil {
		a.fail("post", err)
		return
	}
	a.term.Printf("📝 Post %s submitted (%s)\n", p.ID, p.Status)
}

func (a *app) myPosts(ctx context.Context) {
	u, _ := a.sess.CurrentUser()
	posts, err := a.client.MyPosts(ctx, u.ID)
	if err != nil {
		a.fail("mine", err)
		return
	}
	if len(posts) == 0 {
		a.term.Printf("(no posts yet)\n")
	}
	for _, p := range posts {
		a.term.Printf("#%s [%s] %s\n", p.ID, p.Status, p.Content)
	}
}

func (a *app) showProfile(ctx context.Context) {
	u, _ := a.sess.CurrentUser()
	p, err := a.client.Profile(ctx, u)
	if err != nil {
		a.fail("me", err)
		return
	}
	a.term.Printf("%s <%s> role=%s\n", p.Name, p.Email, u.Role)
	if p.Bio != "" {
		a.term.Printf("%s\n", p.Bio)
	}
}

func (a *app) updateBio(ctx context.Context, bio string) {
	if bio == "" {
		a.term.Printf("usage: bio <text>\n")
		return
	}
	u, _ := a.sess.CurrentUser()
	p, err := a.client.UpdateProfile(ctx, u, ardu.ProfileUpdate{Bio: bio})
	if err != nil {
		a.fail("bio", err)
		return
	}
	a.term.Printf("✅ Bio updated: %s\n", p.Bio)
}

func (a *app) fail(op string, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		a.term.Notify(context.Background(), domain.EngagementEvent{Kind: domain.EventSessionExpired, Err: err})
	case errors.Is(err, domain.ErrForbiddenRole):
		a.term.Printf("%s: admin role required\n", op)
	default:
		a.term.Printf("%s failed: %v\n", op, err)
	}
}

func splitCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(line, " ")
	return cmd, strings.TrimSpace(rest)
}
