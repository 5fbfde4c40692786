package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRejected is returned when the API answers with success=false on a 2xx status.
var ErrRejected = errors.New("api: request rejected")

// Client provides typed access to the social API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4549"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Envelope is the {success, message} body most routes answer with.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (e Envelope) err() error {
	if e.Success {
		return nil
	}
	if e.Message == "" {
		return ErrRejected
	}
	return fmt.Errorf("%w: %s", ErrRejected, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Message)
}

func (c *Client) envelope(ctx context.Context, method, path string, body any, token string) error {
	var env Envelope
	if err := c.do(ctx, method, path, body, token, &env); err != nil {
		return err
	}
	return env.err()
}

// Status returns the server_status reported by the root endpoint.
func (c *Client) Status(ctx context.Context) (string, error) {
	var resp struct {
		ServerStatus string `json:"server_status"`
	}
	if err := c.do(ctx, http.MethodGet, "/", nil, "", &resp); err != nil {
		return "", err
	}
	return resp.ServerStatus, nil
}

// RegisterRequest carries the profile of a new account.
type RegisterRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Gender   string `json:"gender,omitempty"`
	Photo    string `json:"photo,omitempty"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, in RegisterRequest) error {
	return c.envelope(ctx, http.MethodPost, "/register", in, "")
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var resp struct {
		Envelope
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", body, "", &resp); err != nil {
		return "", err
	}
	if err := resp.err(); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// ListPosts returns every post document as stored.
func (c *Client) ListPosts(ctx context.Context) ([]map[string]any, error) {
	var resp struct {
		Envelope
		Posts []map[string]any `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/posts", nil, "", &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	return resp.Posts, nil
}

// CreatePost submits doc as a new post. token may be empty unless the server enforces ownership.
func (c *Client) CreatePost(ctx context.Context, token string, doc any) error {
	return c.envelope(ctx, http.MethodPost, "/posts", doc, token)
}

// LikeResult reports the post's like state after a toggle.
type LikeResult struct {
	Liked bool `json:"liked"`
	Likes int  `json:"likes"`
}

// ToggleLike flips the caller's like on the post.
func (c *Client) ToggleLike(ctx context.Context, token, postID string) (LikeResult, error) {
	var resp struct {
		Envelope
		LikeResult
	}
	if err := c.do(ctx, http.MethodPatch, "/like/"+url.PathEscape(postID), nil, token, &resp); err != nil {
		return LikeResult{}, err
	}
	if err := resp.err(); err != nil {
		return LikeResult{}, err
	}
	return resp.LikeResult, nil
}

// AddComment appends info as a comment on the post.
func (c *Client) AddComment(ctx context.Context, token, postID string, info map[string]any) error {
	body := map[string]any{"commentInfo": info}
	return c.envelope(ctx, http.MethodPatch, "/comment/"+url.PathEscape(postID), body, token)
}

// UpdatePost replaces the post's content.
func (c *Client) UpdatePost(ctx context.Context, token, postID string, content any) error {
	body := map[string]any{"newContent": content}
	return c.envelope(ctx, http.MethodPatch, "/post/"+url.PathEscape(postID), body, token)
}

// DeletePost removes the post.
func (c *Client) DeletePost(ctx context.Context, token, postID string) error {
	return c.envelope(ctx, http.MethodDelete, "/post/"+url.PathEscape(postID), nil, token)
}

// ResetPassword sets a new password on the first account registered with email.
func (c *Client) ResetPassword(ctx context.Context, token, email, password string) error {
	body := map[string]string{"password": password}
	return c.envelope(ctx, http.MethodPatch, "/forget_password/"+url.PathEscape(email), body, token)
}
