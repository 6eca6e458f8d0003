// Package classeviva implements the ClasseViva school portal API client:
// authentication with transparent re-login on token expiry, the five read
// endpoints normalized into the school domain, and didactics downloads.
package classeviva

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/school"
	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
	"github.com/classeviva-hub/classeviva-poller/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultBaseURL is the production REST endpoint.
	DefaultBaseURL = "https://web.spaggiari.eu/rest/v1"

	// DefaultUserAgent and DefaultAPIKey identify the official mobile app,
	// which is the only client the portal accepts.
	DefaultUserAgent = "zorro/1.0"
	DefaultAPIKey    = "+zorro+"

	headerAPIKey    = "Z-Dev-Apikey"
	headerAuthToken = "Z-Auth-Token"

	// expiredMarker is searched, case-insensitively, in the "error" field
	// of a response body. It is the only expiry signal the portal gives.
	expiredMarker = "auth token expired"

	// invalidCredentialsMarker appears in the login error for a wrong pair.
	invalidCredentialsMarker = "authentication failed"

	// maxTokenRefreshes bounds re-logins per request.
	maxTokenRefreshes = 1

	maxBodyBytes = 64 << 20
)

// ClientConfig contains configuration for the ClasseViva API client.
type ClientConfig struct {
	// BaseURL is the REST API base URL, without trailing slash.
	BaseURL string

	// APIKey is sent in the Z-Dev-Apikey header.
	APIKey string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds every HTTP exchange.
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting.
	RateLimiterConfig RateLimiterConfig

	// CircuitBreakerConfig for failing fast while the portal is down.
	CircuitBreakerConfig CircuitBreakerConfig

	// Logger for structured logging.
	Logger *zap.Logger

	// Observer receives request and login outcomes. Optional.
	Observer Observer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:              DefaultBaseURL,
		APIKey:               DefaultAPIKey,
		UserAgent:            DefaultUserAgent,
		Timeout:              30 * time.Second,
		RateLimiterConfig:    DefaultRateLimiterConfig(),
		CircuitBreakerConfig: DefaultCircuitBreakerConfig(),
	}
}

// Observer is notified of every HTTP exchange and login attempt.
type Observer interface {
	ObserveRequest(endpoint, status string, elapsed time.Duration)
	ObserveLogin(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, string, time.Duration) {}
func (nopObserver) ObserveLogin(string)                          {}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// session is the live login. Replacing it invalidates the previous token.
type session struct {
	token   string
	student school.Student
}

// Client is the ClasseViva API client. It holds exactly one session token
// at a time and is safe for concurrent use.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *zap.Logger
	observer    Observer
	credentials CredentialProvider
	rateLimiter *RateLimiter
	breaker     *CircuitBreaker

	mu      sync.RWMutex
	session *session

	// refresh makes concurrent callers share one in-flight login.
	refresh singleflight.Group
}

// NewClient creates a new ClasseViva API client.
func NewClient(config ClientConfig, credentials CredentialProvider) *Client {
	defaults := DefaultClientConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.APIKey == "" {
		config.APIKey = defaults.APIKey
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      logger.OrNop(config.Logger).With(logger.Component("classeviva")),
		observer:    observer,
		credentials: credentials,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     NewCircuitBreaker(config.CircuitBreakerConfig),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Login exchanges the credentials for a new session token and replaces the
// held session. It fails with AuthError when the portal rejects the pair.
func (c *Client) Login(ctx context.Context) (school.Student, error) {
	creds, err := c.credentials.Credentials(ctx)
	if err != nil {
		c.observer.ObserveLogin("error")
		return school.Student{}, shared.NewAuthError("Login", "credentials unavailable", err)
	}
	if !creds.Valid() {
		c.observer.ObserveLogin("rejected")
		return school.Student{}, shared.NewAuthError("Login", "credentials are incomplete", shared.ErrInvalidCredentials)
	}

	resp, err := c.send(ctx, http.MethodPost, "/auth/login/", loginRequestDTO{UID: creds.Identifier, Pass: creds.Secret}, "")
	if err != nil {
		c.observer.ObserveLogin("error")
		return school.Student{}, err
	}

	var out loginResponseDTO
	if err := json.Unmarshal(resp.body, &out); err != nil {
		c.observer.ObserveLogin("error")
		return school.Student{}, shared.NewUpstreamError("Login", resp.status, resp.body, "login response is not JSON", err)
	}
	if out.Error != "" {
		c.observer.ObserveLogin("rejected")
		if strings.Contains(strings.ToLower(string(out.Error)), invalidCredentialsMarker) {
			return school.Student{}, shared.NewAuthError("Login", "portal rejected the credentials", shared.ErrInvalidCredentials)
		}
		return school.Student{}, shared.NewAuthError("Login", "portal refused login: "+string(out.Error), nil)
	}
	if resp.status >= http.StatusBadRequest {
		c.observer.ObserveLogin("error")
		return school.Student{}, shared.NewUpstreamError("Login", resp.status, resp.body, "login failed", nil)
	}
	if out.Token == "" {
		c.observer.ObserveLogin("rejected")
		return school.Student{}, shared.NewAuthError("Login", "login response carried no token", nil)
	}

	student := school.Student{
		ID:        studentIDFromIdent(string(out.Ident)),
		Ident:     string(out.Ident),
		FirstName: string(out.FirstName),
		LastName:  string(out.LastName),
	}
	if student.ID == "" {
		c.observer.ObserveLogin("error")
		return school.Student{}, shared.NewUpstreamError("Login", resp.status, resp.body, "login response carried no student identifier", nil)
	}

	c.mu.Lock()
	c.session = &session{token: out.Token, student: student}
	c.mu.Unlock()

	c.observer.ObserveLogin("success")
	c.logger.Info("logged in",
		logger.StudentID(student.ID),
		logger.TokenPrint(fingerprint(out.Token)),
	)
	return student, nil
}

// Student returns the logged-in student, logging in first when no session
// is held.
func (c *Client) Student(ctx context.Context) (school.Student, error) {
	if _, err := c.currentToken(ctx); err != nil {
		return school.Student{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.student, nil
}

// currentToken returns the held token, logging in when there is none.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s != nil {
		return s.token, nil
	}
	return c.refreshToken(ctx, "")
}

// refreshToken replaces stale with a fresh token. Concurrent callers share
// one login; a caller whose stale token was already replaced gets the
// current token without logging in again.
func (c *Client) refreshToken(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.refresh.Do("login", func() (interface{}, error) {
		c.mu.RLock()
		s := c.session
		c.mu.RUnlock()
		if s != nil && s.token != stale {
			return s.token, nil
		}
		if _, err := c.Login(ctx); err != nil {
			return "", err
		}
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.session.token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATED REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// Request issues an authenticated request against path (relative to the
// base URL) and returns the response body. When the body carries the
// expired-token marker the client logs in again and repeats the request
// exactly once; a second expiry is an AuthError. Network failures are
// TransportError and are not retried.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	resp, err := c.exchange(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.status >= http.StatusBadRequest {
		return nil, shared.NewUpstreamError("Request", resp.status, resp.body,
			fmt.Sprintf("%s %s failed", method, path), nil)
	}
	return resp.body, nil
}

// Attachment is a downloaded didactics file.
type Attachment struct {
	ContentID   string
	ContentType string
	Filename    string
	Data        []byte
}

// DownloadDidactic fetches the file behind a didactics item. The portal
// answers with the raw file, or with JSON when the item has no file.
func (c *Client) DownloadDidactic(ctx context.Context, contentID string) (*Attachment, error) {
	student, err := c.Student(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.exchange(ctx, http.MethodGet, studentPath(student.ID, "didactics", "item", contentID), nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK || resp.isJSON() {
		return nil, shared.NewUpstreamError("DownloadDidactic", resp.status, resp.body,
			"no file for didactics item "+contentID, nil)
	}

	att := &Attachment{
		ContentID:   contentID,
		ContentType: resp.contentType,
		Data:        resp.body,
	}
	if _, params, err := mime.ParseMediaType(resp.disposition); err == nil {
		att.Filename = params["filename"]
	}
	return att, nil
}

// exchange sends the request with the current token and handles the
// expiry protocol.
func (c *Client) exchange(ctx context.Context, method, path string, body interface{}) (*response, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	for refreshes := 0; ; refreshes++ {
		resp, err := c.send(ctx, method, path, body, token)
		if err != nil {
			return nil, err
		}
		if !resp.tokenExpired() {
			return resp, nil
		}
		if refreshes >= maxTokenRefreshes {
			return nil, shared.NewAuthError("Request", "auth token still expired after re-login", shared.ErrTokenExpired)
		}

		c.logger.Info("auth token expired, logging in again",
			zap.String("path", path),
			logger.TokenPrint(fingerprint(token)),
		)
		if token, err = c.refreshToken(ctx, token); err != nil {
			return nil, err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type response struct {
	status      int
	contentType string
	disposition string
	body        []byte
}

func (r *response) isJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.contentType)
	if err != nil {
		trimmed := bytes.TrimSpace(r.body)
		return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// tokenExpired reports whether the body is a JSON object whose "error"
// field mentions the expiry marker.
func (r *response) tokenExpired() bool {
	trimmed := bytes.TrimSpace(r.body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var envelope struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return false
	}
	msg, ok := envelope.Error.(string)
	return ok && strings.Contains(strings.ToLower(msg), expiredMarker)
}

// send performs a single HTTP exchange. token may be empty for login.
func (c *Client) send(ctx context.Context, method, path string, body interface{}, token string) (*response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, shared.NewTransportError("Request", "portal unavailable", err)
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, shared.NewTransportError("Request", "rate limiter", err)
	}

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set(headerAPIKey, c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(headerAuthToken, token)
	}

	endpoint := endpointLabel(path)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.observer.ObserveRequest(endpoint, "transport_error", time.Since(start))
		return nil, shared.NewTransportError("Request", method+" "+endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.breaker.RecordFailure()
		c.observer.ObserveRequest(endpoint, "transport_error", time.Since(start))
		return nil, shared.NewTransportError("Request", "read response", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	c.observer.ObserveRequest(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	c.logger.Debug("classeviva api request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		logger.Latency(time.Since(start)),
	)

	return &response{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		disposition: resp.Header.Get("Content-Disposition"),
		body:        respBody,
	}, nil
}

// CircuitState exposes the breaker state for health checks.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// IsTransient reports whether err is worth trying again on a later cycle
// without operator action.
func IsTransient(err error) bool {
	return shared.IsTransportError(err) || errors.Is(err, ErrCircuitOpen)
}

// studentPath builds /students/{id}/seg1/seg2...
func studentPath(studentID string, segments ...string) string {
	return "/students/" + studentID + "/" + strings.Join(segments, "/")
}

// endpointLabel reduces a path to a low-cardinality metric label:
// "/students/123/agenda/all/20240101/20240131" becomes "agenda".
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "students" {
		return parts[2]
	}
	if len(parts) >= 2 && parts[0] == "auth" {
		return "auth_" + parts[1]
	}
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "root"
}

// studentIDFromIdent strips the user-type prefix and check letters from an
// ident such as "S1234567X", leaving the digits.
func studentIDFromIdent(ident string) string {
	var b strings.Builder
	for _, r := range ident {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fingerprint identifies a token in logs without revealing it.
func fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
