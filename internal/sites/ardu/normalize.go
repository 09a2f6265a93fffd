package ardu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"ardu-agent/internal/core/domain"
)

// All loose payload handling lives here: one function per endpoint,
// each producing a single canonical domain type.

var trailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// decodeLenient decodes raw into out, retrying once after stripping a BOM,
// HTML-escaped quotes and trailing commas.
func decodeLenient(raw []byte, out any) error {
	err := json.Unmarshal(raw, out)
	if err == nil {
		return nil
	}
	cleaned := bytes.TrimPrefix(raw, []byte("\uFEFF"))
	cleaned = bytes.ReplaceAll(cleaned, []byte("&quot;"), []byte(`"`))
	cleaned = trailingComma.ReplaceAll(cleaned, []byte("$1"))
	if err2 := json.Unmarshal(cleaned, out); err2 != nil {
		return fmt.Errorf("%w: %v (body: %s)", domain.ErrMalformedResponse, err, snippet(raw, 120))
	}
	return nil
}

// snippet shortens b to at most n bytes for error messages, cutting on a
// rune boundary.
func snippet(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalizeUser(u *apiUser) domain.User {
	if u == nil {
		return domain.User{}
	}
	return domain.User{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		Username:  u.Username,
		Role:      u.Role,
		MainAdmin: u.MainAdmin,
		AvatarURL: firstNonEmpty(u.ProfilePhotoURL, u.ImageURL),
		Bio:       u.Bio,
	}
}

func normalizeAuthor(u *apiUser, fallbackNames ...string) domain.Author {
	a := domain.Author{Name: firstNonEmpty(fallbackNames...)}
	if u != nil {
		a.ID = u.ID.String()
		a.Name = firstNonEmpty(u.Name, u.Username, a.Name)
		a.AvatarURL = firstNonEmpty(u.ProfilePhotoURL, u.ImageURL)
	}
	if a.Name == "" {
		a.Name = "Unknown User"
	}
	return a
}

// countField reads a count that may be sent as a number or as the full array.
func countField(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return len(arr), true
	}
	return 0, false
}

func mediaKind(url, declared string) domain.MediaKind {
	if url == "" {
		return domain.MediaNone
	}
	switch strings.ToLower(declared) {
	case "video":
		return domain.MediaVideo
	case "image":
		return domain.MediaImage
	}
	lower := strings.ToLower(url)
	for _, ext := range []string{".mp4", ".webm", ".mov", ".m3u8"} {
		if strings.Contains(lower, ext) {
			return domain.MediaVideo
		}
	}
	return domain.MediaImage
}

func normalizePost(p apiPost) domain.Post {
	post := domain.Post{
		ID:        p.ID.String(),
		Content:   firstNonEmpty(p.Caption, p.Content, p.Description),
		MediaURL:  firstNonEmpty(p.ImageURL, p.ImageURLAlt, p.ContentURL),
		Author:    normalizeAuthor(p.User, p.UserName, p.Author),
		CreatedAt: parseTime(firstNonEmpty(p.CreatedAt, p.CreatedAlt)),
		Status:    domain.PostStatus(strings.ToUpper(p.Status)),
	}
	post.MediaKind = mediaKind(post.MediaURL, p.MediaType)

	if n, ok := countField(p.Comments); ok {
		post.CommentCount = n
	} else if p.CommentCnt != nil {
		post.CommentCount = *p.CommentCnt
	}
	switch {
	case p.Shares != nil:
		post.ShareCount = *p.Shares
	case p.ShareCount != nil:
		post.ShareCount = *p.ShareCount
	}
	return post
}

// normalizePosts handles GET /posts, /posts/pending and /posts/user/{id}.
func normalizePosts(raw []byte) ([]domain.Post, error) {
	var wire []apiPost
	if err := decodeLenient(raw, &wire); err != nil {
		return nil, err
	}
	posts := make([]domain.Post, 0, len(wire))
	for _, p := range wire {
		if p.ID == "" {
			continue
		}
		posts = append(posts, normalizePost(p))
	}
	return posts, nil
}

// normalizeSummary handles GET /posts/{id}/reactions/summary.
func normalizeSummary(raw []byte) (domain.Engagement, error) {
	var wire apiSummary
	if err := decodeLenient(raw, &wire); err != nil {
		return domain.Engagement{}, err
	}
	e := domain.Engagement{
		Total:  wire.Total,
		Counts: make(map[domain.ReactionType]int, len(wire.Counts)),
	}
	for k, v := range wire.Counts {
		if t, ok := domain.ParseReactionType(k); ok && t != domain.ReactionNone {
			e.Counts[t] += v
		}
	}
	if wire.UserReaction != nil {
		t, ok := domain.ParseReactionType(*wire.UserReaction)
		if !ok {
			return domain.Engagement{}, fmt.Errorf("%w: unknown reaction %q", domain.ErrMalformedResponse, *wire.UserReaction)
		}
		e.UserReaction = t
	}
	for _, r := range wire.RecentReactors {
		t, _ := domain.ParseReactionType(r.Type)
		reactor := domain.Reactor{Name: r.Name, ImageURL: r.ImageURL, Type: t}
		if r.User != nil {
			reactor.Name = firstNonEmpty(reactor.Name, r.User.Name, r.User.Username)
			reactor.ImageURL = firstNonEmpty(reactor.ImageURL, r.User.ImageURL, r.User.ProfilePhotoURL)
		}
		e.RecentReactors = append(e.RecentReactors, reactor)
	}
	return e, nil
}

func normalizeComment(c apiComment, postID string) domain.Comment {
	out := domain.Comment{
		ID:        c.ID.String(),
		PostID:    firstNonEmpty(c.PostID.String(), postID),
		Author:    normalizeAuthor(c.User, c.Username),
		Text:      firstNonEmpty(c.Text, c.Comment, c.Content),
		CreatedAt: parseTime(c.CreatedAt),
	}
	return out
}

// normalizeCommentPage handles GET /posts/{id}/comments, which returns either
// a page envelope or a bare array.
func normalizeCommentPage(raw []byte, postID string, page, size int) (domain.CommentPage, error) {
	trimmed := bytes.TrimSpace(raw)
	out := domain.CommentPage{Page: page, Size: size}

	var wire []apiComment
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := decodeLenient(trimmed, &wire); err != nil {
			return out, err
		}
		out.Last = len(wire) < size
	} else {
		var env apiCommentPage
		if err := decodeLenient(trimmed, &env); err != nil {
			return out, err
		}
		wire = env.Content
		if env.Size > 0 {
			out.Size = env.Size
		}
		if env.Number != nil {
			out.Page = *env.Number
		}
		if env.Last != nil {
			out.Last = *env.Last
		} else {
			out.Last = len(wire) < out.Size
		}
	}
	for _, c := range wire {
		out.Comments = append(out.Comments, normalizeComment(c, postID))
	}
	return out, nil
}

// normalizeCreatedComment handles POST /posts/{id}/comment.
func normalizeCreatedComment(raw []byte, postID, username, text string) (domain.Comment, error) {
	fallback := domain.Comment{PostID: postID, Author: domain.Author{Name: username}, Text: text, CreatedAt: time.Now()}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fallback, nil
	}
	var wire apiComment
	if err := decodeLenient(raw, &wire); err != nil {
		return domain.Comment{}, err
	}
	if wire.User == nil && wire.Username == "" {
		wire.Username = username
	}
	c := normalizeComment(wire, postID)
	if c.Text == "" {
		c.Text = text
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = fallback.CreatedAt
	}
	return c, nil
}

// normalizeLogin handles both login endpoints.
func normalizeLogin(raw []byte, now time.Time) (domain.Session, error) {
	var wire LoginResponse
	if err := decodeLenient(raw, &wire); err != nil {
		return domain.Session{}, err
	}
	if wire.JWT.Token == "" {
		return domain.Session{}, fmt.Errorf("%w: login response without token", domain.ErrMalformedResponse)
	}
	s := domain.Session{
		Token: wire.JWT.Token,
		User: domain.User{
			ID:        wire.ID.String(),
			Email:     wire.Email,
			Name:      wire.Name,
			Username:  wire.Username,
			Role:      wire.Role,
			MainAdmin: wire.MainAdmin,
		},
	}
	if wire.JWT.ExpiresInSeconds > 0 {
		s.ExpiresAt = now.Add(time.Duration(wire.JWT.ExpiresInSeconds) * time.Second)
	} else {
		s.ExpiresAt = tokenExpiry(s.Token)
	}
	return s, nil
}

// tokenExpiry reads the unverified exp claim, or zero when absent.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func normalizeUserPayload(raw []byte) (domain.User, error) {
	var wire apiUser
	if err := decodeLenient(raw, &wire); err != nil {
		return domain.User{}, err
	}
	return normalizeUser(&wire), nil
}

func normalizePendingUsers(raw []byte) ([]domain.PendingUser, error) {
	var wire []apiPendingUser
	if err := decodeLenient(raw, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.PendingUser, 0, len(wire))
	for _, u := range wire {
		out = append(out, domain.PendingUser{
			ID:          u.ID.String(),
			Name:        u.Name,
			Email:       u.Email,
			RequestedAt: parseTime(u.CreatedAt),
		})
	}
	return out, nil
}
