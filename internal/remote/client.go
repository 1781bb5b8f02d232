// Package remote is the tablet's view of the remote authority: a Source
// interface the syncer drives, and an HTTP Client implementing it.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Source is what a sync cycle needs from the remote side.
type Source interface {
	Login(ctx context.Context, username, password string) (Identity, error)
	EntitiesChangedSince(ctx context.Context, table string, since time.Time) ([]json.RawMessage, error)
	PushChange(ctx context.Context, table string, record json.RawMessage) error
	FetchFile(ctx context.Context, id string) (File, error)
}

// Identity is the user described by an access token.
type Identity struct {
	Subject  string   `json:"sub"`
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Token    string   `json:"-"`
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// ErrRoleDenied is returned by Login when the token lacks the required role.
var ErrRoleDenied = errors.New("user lacks the required role")

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Client is a minimal HTTP client for the remote API.
type Client struct {
	BaseURL      string
	ClientID     string
	RequiredRole string
	BearerToken  string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ClientID: "tablet",
		Timeout:  30 * time.Second,
	}
}

// Login exchanges credentials for an access token, reads the token's claims
// and keeps the token for later calls. The token's signature is the
// server's business; only its claims are read here.
func (c *Client) Login(ctx context.Context, username, password string) (Identity, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Identity{}, errors.New("invalid username and password")
	}
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.ClientID},
		"username":   {username},
		"password":   {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("connect/token"), strings.NewReader(form.Encode()))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.send(req, &tok); err != nil {
		return Identity{}, err
	}
	id, err := ParseIdentity(tok.AccessToken)
	if err != nil {
		return Identity{}, err
	}
	if c.RequiredRole != "" && !id.HasRole(c.RequiredRole) {
		return Identity{}, fmt.Errorf("%w %q (roles: %s)", ErrRoleDenied, c.RequiredRole, strings.Join(id.Roles, ", "))
	}
	c.BearerToken = tok.AccessToken
	return id, nil
}

// ParseIdentity reads the claims of an access token without verifying it.
// A single role may arrive as a string rather than a list.
func ParseIdentity(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse access token: %w", err)
	}
	id := Identity{Token: token}
	id.Subject, _ = claims.GetSubject()
	id.Username, _ = claims["preferred_username"].(string)
	if id.Username == "" {
		id.Username, _ = claims["username"].(string)
	}
	id.Email, _ = claims["email"].(string)
	id.Name, _ = claims["name"].(string)
	switch roles := claims["roles"].(type) {
	case string:
		id.Roles = []string{roles}
	case []any:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	return id, nil
}

func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// EntitiesChangedSince lists the records of table modified after since.
func (c *Client) EntitiesChangedSince(ctx context.Context, table string, since time.Time) ([]json.RawMessage, error) {
	var ms int64
	if !since.IsZero() {
		ms = since.UnixMilli()
	}
	endpoint := fmt.Sprintf("changelogs/%s?since=%s", url.PathEscape(table), strconv.FormatInt(ms, 10))
	var resp []json.RawMessage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PushChange sends one local change for table.
func (c *Client) PushChange(ctx context.Context, table string, record json.RawMessage) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("changes/%s", url.PathEscape(table)), record, nil)
}

// FetchFile downloads a file by id. The name comes from Content-Disposition
// when the server sends one.
func (c *Client) FetchFile(ctx context.Context, id string) (File, error) {
	req, err := c.request(ctx, http.MethodGet, fmt.Sprintf("files/%s", url.PathEscape(id)), nil)
	if err != nil {
		return File{}, err
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return File{}, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, err
	}
	f := File{Name: id, ContentType: resp.Header.Get("Content-Type"), Data: data}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		f.Name = params["filename"]
	}
	return f, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req, err := c.request(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) request(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return nil
}

func (c *Client) client() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}
