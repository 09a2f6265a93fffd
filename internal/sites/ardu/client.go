package ardu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ardu-agent/internal/core/domain"
	"ardu-agent/internal/core/ports"
)

const DefaultBaseURL = "https://ardu-backend.onrender.com/api"

const maxBodyBytes = 4 << 20

// Client is the adapter for the ARDU community REST API.
// It owns transport, auth headers and payload normalization; callers only see domain types.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     ports.TokenSource
	Now        func() time.Time
}

func NewClient(baseURL string, tokens ports.TokenSource, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
		Tokens:     tokens,
		Now:        time.Now,
	}
}

var (
	_ ports.FeedBackend       = (*Client)(nil)
	_ ports.ModerationBackend = (*Client)(nil)
)

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	anonymous   bool
}

var validate = validator.New()

// jsonBody validates v against its struct tags and encodes it.
func jsonBody(v any) (io.Reader, error) {
	if err := validate.Struct(v); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling error: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do sends r and returns the raw response body of a 2xx response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	u := c.BaseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if !r.anonymous && c.Tokens != nil {
		if token := c.Tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s: %w", r.method, r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := newAPIError(r.method, r.path, resp.StatusCode, body)
		slog.Debug("backend call failed", "method", r.method, "path", r.path, "status", resp.StatusCode)
		return nil, apiErr
	}
	return body, nil
}

func postPath(postID string, parts ...string) string {
	p := "/posts/" + url.PathEscape(postID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// Login authenticates against the member or the admin endpoint. There is no
// fallback from one to the other.
func (c *Client) Login(ctx context.Context, email, password string, admin bool) (domain.Session, error) {
	path := "/auth/login"
	if admin {
		path = "/auth/admin/login"
	}
	body, err := jsonBody(LoginRequest{Email: email, Password: password})
	if err != nil {
		return domain.Session{}, err
	}
	raw, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body, contentType: "application/json", anonymous: true})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return domain.Session{}, fmt.Errorf("%w (%s)", domain.ErrLoginRejected, apiErr.Message)
		}
		return domain.Session{}, err
	}
	return normalizeLogin(raw, c.Now())
}

func (c *Client) Register(ctx context.Context, r RegisterRequest) (domain.User, error) {
	body, err := jsonBody(r)
	if err != nil {
		return domain.User{}, err
	}
	raw, err := c.do(ctx, request{method: http.MethodPost, path: "/users/register", body: body, contentType: "application/json", anonymous: true})
	if err != nil {
		return domain.User{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return domain.User{Name: r.Name, Email: r.Email}, nil
	}
	return normalizeUserPayload(raw)
}

// ListPosts returns the approved feed, newest first as ordered by the server.
func (c *Client) ListPosts(ctx context.Context) ([]domain.Post, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/posts"})
	if err != nil {
		return nil, err
	}
	return normalizePosts(raw)
}

func (c *Client) ReactionSummary(ctx context.Context, postID string) (domain.Engagement, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: postPath(postID, "reactions", "summary")})
	if err != nil {
		return domain.Engagement{}, err
	}
	return normalizeSummary(raw)
}

func reactionForm(username, reactionType string) url.Values {
	return url.Values{"username": {username}, "reactionType": {reactionType}}
}

func (c *Client) SetReaction(ctx context.Context, postID, username string, t domain.ReactionType) error {
	form := reactionForm(username, string(t))
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        postPath(postID, "reaction"),
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	return err
}

func (c *Client) ClearReaction(ctx context.Context, postID, username string, t domain.ReactionType) error {
	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   postPath(postID, "reaction"),
		query:  reactionForm(username, string(t)),
	})
	return err
}

func (c *Client) Share(ctx context.Context, postID, username string) error {
	form := reactionForm(username, "share")
	_, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        postPath(postID, "reaction"),
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	})
	return err
}

func (c *Client) ListComments(ctx context.Context, postID string, page, size int) (domain.CommentPage, error) {
	q := url.Values{"page": {strconv.Itoa(page)}, "size": {strconv.Itoa(size)}}
	raw, err := c.do(ctx, request{method: http.MethodGet, path: postPath(postID, "comments"), query: q})
	if err != nil {
		return domain.CommentPage{}, err
	}
	return normalizeCommentPage(raw, postID, page, size)
}

func (c *Client) AddComment(ctx context.Context, postID, username, text string) (domain.Comment, error) {
	q := url.Values{"username": {username}, "text": {text}}
	raw, err := c.do(ctx, request{method: http.MethodPost, path: postPath(postID, "comment"), query: q})
	if err != nil {
		return domain.Comment{}, err
	}
	return normalizeCreatedComment(raw, postID, username, text)
}

func (c *Client) CreatePost(ctx context.Context, p NewPost) (domain.Post, error) {
	body, err := jsonBody(p)
	if err != nil {
		return domain.Post{}, err
	}
	raw, err := c.do(ctx, request{method: http.MethodPost, path: "/posts/create", body: body, contentType: "application/json"})
	if err != nil {
		return domain.Post{}, err
	}
	var wire apiPost
	if err := decodeLenient(raw, &wire); err != nil {
		return domain.Post{}, err
	}
	return normalizePost(wire), nil
}

func (c *Client) DeletePost(ctx context.Context, postID string) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, path: postPath(postID)})
	return err
}

// MyPosts lists every post of a user, whatever its review status.
func (c *Client) MyPosts(ctx context.Context, userID string) ([]domain.Post, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/posts/user/" + url.PathEscape(userID)})
	if err != nil {
		return nil, err
	}
	return normalizePosts(raw)
}

// PendingPosts uses the one documented endpoint; it does not probe alternatives.
func (c *Client) PendingPosts(ctx context.Context) ([]domain.Post, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/posts/pending"})
	if err != nil {
		return nil, err
	}
	return normalizePosts(raw)
}

func (c *Client) ModeratePost(ctx context.Context, postID string, d domain.Decision) error {
	_, err := c.do(ctx, request{method: http.MethodPut, path: postPath(postID, string(d))})
	return err
}

func (c *Client) PendingUsers(ctx context.Context) ([]domain.PendingUser, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: "/admin/users/pending"})
	if err != nil {
		return nil, err
	}
	return normalizePendingUsers(raw)
}

func (c *Client) ModerateUser(ctx context.Context, userID string, d domain.Decision) error {
	_, err := c.do(ctx, request{method: http.MethodPut, path: "/admin/users/" + url.PathEscape(userID) + "/" + string(d)})
	return err
}

func profilePath(u domain.User) string {
	if u.IsAdmin() {
		return "/admins/" + url.PathEscape(u.ID)
	}
	return "/users/" + url.PathEscape(u.ID)
}

func (c *Client) Profile(ctx context.Context, u domain.User) (domain.User, error) {
	raw, err := c.do(ctx, request{method: http.MethodGet, path: profilePath(u)})
	if err != nil {
		return domain.User{}, err
	}
	return normalizeUserPayload(raw)
}

func (c *Client) UpdateProfile(ctx context.Context, u domain.User, upd ProfileUpdate) (domain.User, error) {
	body, err := jsonBody(upd)
	if err != nil {
		return domain.User{}, err
	}
	raw, err := c.do(ctx, request{method: http.MethodPut, path: profilePath(u), body: body, contentType: "application/json"})
	if err != nil {
		return domain.User{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return c.Profile(ctx, u)
	}
	return normalizeUserPayload(raw)
}
