package ardu

import (
	"bytes"
	"encoding/json"
)

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// LoginRequest body for /auth/login and /auth/admin/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse as returned by both login endpoints.
type LoginResponse struct {
	ID        flexID `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	MainAdmin bool   `json:"mainAdmin"`
	JWT       struct {
		Token            string `json:"token"`
		ExpiresInSeconds int64  `json:"expiresInSeconds"`
	} `json:"jwt"`
}

// RegisterRequest is the initial registration form.
type RegisterRequest struct {
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=6"`
	Phone        string `json:"phone,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// NewPost is the body of /posts/create.
type NewPost struct {
	Caption  string `json:"caption" validate:"required_without=ImageURL"`
	ImageURL string `json:"imageUrl,omitempty" validate:"omitempty,url"`
	UserID   string `json:"userId,omitempty"`
}

// ProfileUpdate carries editable profile fields; empty fields are omitted.
type ProfileUpdate struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Phone    string `json:"phone,omitempty"`
	Bio      string `json:"bio,omitempty" validate:"max=500"`
	ImageURL string `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

type apiUser struct {
	ID              flexID `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Role            string `json:"role"`
	MainAdmin       bool   `json:"mainAdmin"`
	ProfilePhotoURL string `json:"profilePhotoUrl"`
	ImageURL        string `json:"imageUrl"`
	Bio             string `json:"bio"`
}

// apiPost mirrors the loose post payload; several fields have historical aliases.
type apiPost struct {
	ID          flexID          `json:"id"`
	Caption     string          `json:"caption"`
	Content     string          `json:"content"`
	Description string          `json:"description"`
	ImageURL    string          `json:"imageUrl"`
	ImageURLAlt string          `json:"image_url"`
	ContentURL  string          `json:"contentUrl"`
	MediaType   string          `json:"mediaType"`
	User        *apiUser        `json:"user"`
	UserName    string          `json:"userName"`
	Author      string          `json:"author"`
	CreatedAt   string          `json:"createdAt"`
	CreatedAlt  string          `json:"created_at"`
	Status      string          `json:"status"`
	Comments    json.RawMessage `json:"comments"`
	CommentCnt  *int            `json:"commentCount"`
	Shares      *int            `json:"shares"`
	ShareCount  *int            `json:"shareCount"`
}

type apiReactor struct {
	Name     string   `json:"name"`
	ImageURL string   `json:"imageUrl"`
	Type     string   `json:"type"`
	User     *apiUser `json:"user"`
}

type apiSummary struct {
	Total          int            `json:"total"`
	Counts         map[string]int `json:"counts"`
	UserReaction   *string        `json:"userReaction"`
	RecentReactors []apiReactor   `json:"recentReactors"`
}

type apiComment struct {
	ID        flexID   `json:"id"`
	PostID    flexID   `json:"postId"`
	Text      string   `json:"text"`
	Comment   string   `json:"comment"`
	Content   string   `json:"content"`
	Username  string   `json:"username"`
	User      *apiUser `json:"user"`
	CreatedAt string   `json:"createdAt"`
}

// apiCommentPage is the Spring-style page envelope.
type apiCommentPage struct {
	Content []apiComment `json:"content"`
	Number  *int         `json:"number"`
	Size    int          `json:"size"`
	Last    *bool        `json:"last"`
}

type apiPendingUser struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
