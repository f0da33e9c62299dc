package backend

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

	"golang.org/x/oauth2"

	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/models"
	"github.com/myrightwindow/rightwindow/utils"
)

// Supabase talks to a hosted Supabase project: GoTrue for auth, PostgREST for tables,
// the storage API for objects and the realtime websocket for change feeds.
type Supabase struct {
	baseURL         string
	anonKey         string
	postsTable      string
	profilesTable   string
	realtimeEnabled bool
	eventsPerSecond int
	httpClient      *http.Client
	now             func() time.Time
}

// NewSupabase returns a client for the configured project.
func NewSupabase(c config.AppConfig) *Supabase {
	s := &Supabase{
		baseURL:         strings.TrimRight(c.SupabaseURL, "/"),
		anonKey:         c.SupabaseAnonKey,
		postsTable:      c.PostsTable,
		profilesTable:   c.ProfilesTable,
		realtimeEnabled: c.SupabaseConfigured(),
		eventsPerSecond: c.RealtimeEventsPerSecond,
		now:             time.Now,
	}
	s.httpClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: &apiKeyTransport{key: c.SupabaseAnonKey, base: http.DefaultTransport},
	}
	if !s.realtimeEnabled {
		utils.Sugar.Warn("supabase credentials missing or placeholder; realtime updates are disabled")
	}
	return s
}

type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("apikey", t.key)
	return t.base.RoundTrip(r)
}

// clientFor returns an HTTP client that authorizes as the session's user,
// or as the anonymous role when sess is nil.
func (s *Supabase) clientFor(ctx context.Context, sess *models.Session) *http.Client {
	token := sessionToken(sess)
	if token == "" {
		token = s.anonKey
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

type request struct {
	method string
	path   string
	query  url.Values
	body   interface{}
	prefer string
}

func (s *Supabase) do(ctx context.Context, sess *models.Session, r request, out interface{}) error {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.path, err)
		}
		body = bytes.NewReader(b)
	}
	u := s.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := s.clientFor(ctx, sess).Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.path, err)
	}
	return nil
}

// decodeAPIError understands the error shapes of GoTrue, PostgREST and the storage API.
func decodeAPIError(status int, raw []byte) error {
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	apiErr := &APIError{Status: status}
	// GoTrue also sends a numeric "code" holding the HTTP status; only string codes count.
	for _, k := range []string{"error_code", "code", "error"} {
		if v, ok := body[k].(string); ok && v != "" {
			apiErr.Code = v
			break
		}
	}
	for _, k := range []string{"error_description", "msg", "message", "error"} {
		if v, ok := body[k].(string); ok && v != "" {
			apiErr.Message = v
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	if status == http.StatusUnauthorized || strings.Contains(strings.ToLower(apiErr.Message), "jwt expired") {
		return fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Message)
	}
	return apiErr
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// Authenticate exchanges an email/password pair for a backend session.
func (s *Supabase) Authenticate(ctx context.Context, email, password string) (*models.Session, error) {
	var tr tokenResponse
	err := s.do(ctx, nil, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &tr)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && rejectsCredentials(apiErr) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return s.sessionFromToken(&tr)
}

// rejectsCredentials tells a wrong email/password apart from other sign-in refusals
// such as an unconfirmed email or a malformed request.
func rejectsCredentials(e *APIError) bool {
	switch e.Code {
	case "invalid_credentials":
		return true
	case "invalid_grant", "":
		return e.Status == http.StatusBadRequest && strings.EqualFold(strings.TrimSpace(e.Message), "invalid login credentials")
	}
	return false
}

func (s *Supabase) sessionFromToken(tr *tokenResponse) (*models.Session, error) {
	if tr.AccessToken == "" || tr.User.ID == "" {
		return nil, errors.New("auth response carried no session")
	}

	now := s.now()
	sess := &models.Session{
		UserID:       tr.User.ID,
		Email:        tr.User.Email,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		CreatedAt:    now,
	}
	switch {
	case tr.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		sess.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return sess, nil
}

// SignOut revokes the session's tokens. An already expired session counts as signed out.
func (s *Supabase) SignOut(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	err := s.do(ctx, sess, request{method: http.MethodPost, path: "/auth/v1/logout"}, nil)
	if errors.Is(err, ErrSessionExpired) {
		return nil
	}
	return err
}

// Refresh exchanges the session's refresh token for a new access token.
func (s *Supabase) Refresh(ctx context.Context, sess *models.Session) (*models.Session, error) {
	if sess == nil || sess.RefreshToken == "" {
		return nil, ErrSessionExpired
	}
	var tr tokenResponse
	err := s.do(ctx, nil, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": sess.RefreshToken},
	}, &tr)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s", ErrSessionExpired, apiErr.Message)
		}
		return nil, err
	}
	fresh, err := s.sessionFromToken(&tr)
	if err != nil {
		return nil, err
	}
	return renewed(sess, fresh), nil
}

// UpdatePassword sets a new password for the session's user.
func (s *Supabase) UpdatePassword(ctx context.Context, sess *models.Session, newPassword string) error {
	if sess == nil {
		return ErrSessionExpired
	}
	return s.do(ctx, sess, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		body:   map[string]string{"password": newPassword},
	}, nil)
}

func (s *Supabase) restPath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

// GetProfile reads the profile row keyed by the user id.
func (s *Supabase) GetProfile(ctx context.Context, sess *models.Session, userID string) (*models.Profile, error) {
	var rows []models.Profile
	err := s.do(ctx, sess, request{
		method: http.MethodGet,
		path:   s.restPath(s.profilesTable),
		query:  url.Values{"select": {"*"}, "id": {"eq." + userID}, "limit": {"1"}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpdateProfile patches the profile row keyed by the user id.
func (s *Supabase) UpdateProfile(ctx context.Context, sess *models.Session, userID string, fields ProfileFields) error {
	patch := map[string]interface{}{"updated_at": fields.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	if fields.FullName != nil {
		patch["full_name"] = *fields.FullName
	}
	return s.do(ctx, sess, request{
		method: http.MethodPatch,
		path:   s.restPath(s.profilesTable),
		query:  url.Values{"id": {"eq." + userID}},
		body:   patch,
		prefer: "return=minimal",
	}, nil)
}

// ListPosts returns posts newest first, drafts included when asked.
func (s *Supabase) ListPosts(ctx context.Context, sess *models.Session, includeUnpublished bool) ([]models.Post, error) {
	q := url.Values{"select": {"*"}, "order": {"created_at.desc"}}
	if !includeUnpublished {
		q.Set("published", "eq.true")
	}
	posts := []models.Post{}
	if err := s.do(ctx, sess, request{method: http.MethodGet, path: s.restPath(s.postsTable), query: q}, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// GetPost reads one post by id.
func (s *Supabase) GetPost(ctx context.Context, sess *models.Session, id string) (*models.Post, error) {
	return s.getPostWhere(ctx, sess, "id", id)
}

// GetPostBySlug reads one post by slug.
func (s *Supabase) GetPostBySlug(ctx context.Context, sess *models.Session, slug string) (*models.Post, error) {
	return s.getPostWhere(ctx, sess, "slug", slug)
}

func (s *Supabase) getPostWhere(ctx context.Context, sess *models.Session, column, value string) (*models.Post, error) {
	var rows []models.Post
	err := s.do(ctx, sess, request{
		method: http.MethodGet,
		path:   s.restPath(s.postsTable),
		query:  url.Values{"select": {"*"}, column: {"eq." + value}, "limit": {"1"}},
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UpdatePost patches the post row with the given id.
func (s *Supabase) UpdatePost(ctx context.Context, sess *models.Session, id string, fields PostFields) error {
	patch := map[string]interface{}{"updated_at": fields.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	if fields.Published != nil {
		patch["published"] = *fields.Published
	}
	var rows []models.Post
	err := s.do(ctx, sess, request{
		method: http.MethodPatch,
		path:   s.restPath(s.postsTable),
		query:  url.Values{"id": {"eq." + id}, "select": {"id"}},
		body:   patch,
		prefer: "return=representation",
	}, &rows)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePost removes the row; zero affected rows is still a success.
func (s *Supabase) DeletePost(ctx context.Context, sess *models.Session, id string) error {
	return s.do(ctx, sess, request{
		method: http.MethodDelete,
		path:   s.restPath(s.postsTable),
		query:  url.Values{"id": {"eq." + id}},
		prefer: "return=minimal",
	}, nil)
}

// DeleteStorageObjects removes keys from a bucket in one call.
func (s *Supabase) DeleteStorageObjects(ctx context.Context, sess *models.Session, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.do(ctx, sess, request{
		method: http.MethodDelete,
		path:   "/storage/v1/object/" + url.PathEscape(bucket),
		body:   map[string][]string{"prefixes": keys},
	}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// Subscribe opens a realtime change feed for table. Without real credentials it returns
// a feed that never fires.
func (s *Supabase) Subscribe(ctx context.Context, sess *models.Session, table string) (Subscription, error) {
	if !s.realtimeEnabled {
		return newIdleSubscription(), nil
	}
	return dialRealtime(ctx, realtimeOptions{
		baseURL:         s.baseURL,
		apiKey:          s.anonKey,
		accessToken:     sessionToken(sess),
		table:           table,
		eventsPerSecond: s.eventsPerSecond,
	})
}
