package classeviva

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classeviva-hub/classeviva-poller/internal/domain/shared"
)

// fakePortal is a minimal upstream: it issues numbered tokens on login and
// lets each test decide whether a data request sees an expired token.
type fakePortal struct {
	t *testing.T

	logins   atomic.Int32
	requests atomic.Int32

	mu          sync.Mutex
	validToken  string
	expireAll   bool // every data request reports expiry
	closeConns  bool // disable keep-alive so no request rides a reused connection
	loginError  string
	loginDelay  time.Duration
	dataHandler http.HandlerFunc
}

func newFakePortal(t *testing.T) (*fakePortal, *httptest.Server) {
	fp := &fakePortal{t: t}
	srv := httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(srv.Close)
	return fp, srv
}

func (fp *fakePortal) serve(w http.ResponseWriter, r *http.Request) {
	assert.Equal(fp.t, DefaultUserAgent, r.Header.Get("User-Agent"))
	assert.Equal(fp.t, DefaultAPIKey, r.Header.Get(headerAPIKey))

	fp.mu.Lock()
	closeConns := fp.closeConns
	fp.mu.Unlock()
	if closeConns {
		w.Header().Set("Connection", "close")
	}

	if r.URL.Path == "/auth/login/" {
		fp.login(w, r)
		return
	}

	fp.requests.Add(1)
	fp.mu.Lock()
	valid := fp.validToken
	expireAll := fp.expireAll
	handler := fp.dataHandler
	fp.mu.Unlock()

	if expireAll || r.Header.Get(headerAuthToken) != valid {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"statusCode":401,"error":"Auth token expired","message":"Please login again"}`))
		return
	}
	if handler != nil {
		handler(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"grades":[]}`))
}

func (fp *fakePortal) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID  string `json:"uid"`
		Pass string `json:"pass"`
	}
	require.NoError(fp.t, json.NewDecoder(r.Body).Decode(&req))

	n := fp.logins.Add(1)
	fp.mu.Lock()
	loginErr := fp.loginError
	delay := fp.loginDelay
	fp.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if loginErr != "" || req.Pass != "secret" {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"error":"` + loginErr + `"}`))
		return
	}

	token := "token-" + strconv.Itoa(int(n))
	fp.mu.Lock()
	fp.validToken = token
	fp.mu.Unlock()
	_, _ = w.Write([]byte(`{"ident":"S1234567X","firstName":"Mario","lastName":"Rossi","token":"` + token + `"}`))
}

// configure mutates the portal under its lock.
func (fp *fakePortal) configure(fn func(fp *fakePortal)) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fn(fp)
}

func (fp *fakePortal) invalidateToken() {
	fp.mu.Lock()
	fp.validToken = "rotated"
	fp.mu.Unlock()
}

func newTestClient(srv *httptest.Server, pass string) *Client {
	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.Timeout = 2 * time.Second
	cfg.RateLimiterConfig = RateLimiterConfig{}
	cfg.CircuitBreakerConfig = CircuitBreakerConfig{}
	return NewClient(cfg, StaticCredentials{Identifier: "S1234567X", Secret: pass})
}

func TestClient_LoginParsesIdentity(t *testing.T) {
	_, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")

	student, err := c.Login(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1234567", student.ID)
	assert.Equal(t, "S1234567X", student.Ident)
	assert.Equal(t, "Mario", student.FirstName)
	assert.Equal(t, "Rossi", student.LastName)
}

func TestClient_LoginTokenIsAccepted(t *testing.T) {
	fp, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")

	_, err := c.Login(context.Background())
	require.NoError(t, err)

	body, err := c.Request(context.Background(), http.MethodGet, "/students/1234567/grades", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"grades":[]}`, string(body))
	assert.EqualValues(t, 1, fp.logins.Load())
	assert.EqualValues(t, 1, fp.requests.Load())
}

func TestClient_InvalidCredentials(t *testing.T) {
	fp, srv := newFakePortal(t)
	fp.configure(func(fp *fakePortal) { fp.loginError = "username and password do not match: authentication failed" })
	c := newTestClient(srv, "wrong")

	_, err := c.Request(context.Background(), http.MethodGet, "/students/1/grades", nil)

	require.Error(t, err)
	assert.True(t, shared.IsAuthError(err))
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	assert.EqualValues(t, 0, fp.requests.Load())
}

func TestClient_IncompleteCredentialsNeverReachThePortal(t *testing.T) {
	fp, srv := newFakePortal(t)
	c := newTestClient(srv, "")

	_, err := c.Login(context.Background())

	assert.True(t, shared.IsAuthError(err))
	assert.EqualValues(t, 0, fp.logins.Load())
}

func TestClient_ExpiredTokenTriggersOneReloginAndOneRetry(t *testing.T) {
	fp, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")
	_, err := c.Login(context.Background())
	require.NoError(t, err)

	fp.invalidateToken()

	body, err := c.Request(context.Background(), http.MethodGet, "/students/1234567/grades", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"grades":[]}`, string(body))
	assert.EqualValues(t, 2, fp.logins.Load(), "initial login plus exactly one re-login")
	assert.EqualValues(t, 2, fp.requests.Load(), "original request plus exactly one retry")
}

func TestClient_SecondExpiryIsAuthErrorWithoutThirdAttempt(t *testing.T) {
	fp, srv := newFakePortal(t)
	fp.configure(func(fp *fakePortal) { fp.expireAll = true })
	c := newTestClient(srv, "secret")
	_, err := c.Login(context.Background())
	require.NoError(t, err)

	_, err = c.Request(context.Background(), http.MethodGet, "/students/1234567/grades", nil)

	require.Error(t, err)
	assert.True(t, shared.IsAuthError(err))
	assert.ErrorIs(t, err, shared.ErrTokenExpired)
	assert.EqualValues(t, 2, fp.requests.Load())
	assert.EqualValues(t, 2, fp.logins.Load())
}

func TestClient_ConcurrentExpiryRefreshesOnce(t *testing.T) {
	fp, srv := newFakePortal(t)
	fp.configure(func(fp *fakePortal) { fp.loginDelay = 50 * time.Millisecond })
	c := newTestClient(srv, "secret")
	_, err := c.Login(context.Background())
	require.NoError(t, err)

	fp.invalidateToken()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Request(context.Background(), http.MethodGet, "/students/1234567/grades", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 2, fp.logins.Load(), "concurrent expiries must share a single re-login")
}

func TestClient_TransportErrorIsNotRetried(t *testing.T) {
	fp, srv := newFakePortal(t)
	fp.configure(func(fp *fakePortal) { fp.closeConns = true })
	c := newTestClient(srv, "secret")
	_, err := c.Login(context.Background())
	require.NoError(t, err)

	fp.configure(func(fp *fakePortal) {
		fp.dataHandler = func(w http.ResponseWriter, r *http.Request) {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
		}
	})

	_, err = c.Request(context.Background(), http.MethodGet, "/students/1234567/grades", nil)

	require.Error(t, err)
	assert.True(t, shared.IsTransportError(err))
	assert.True(t, IsTransient(err))
	assert.EqualValues(t, 1, fp.requests.Load())
}

func TestClient_UnreachablePortalIsTransportError(t *testing.T) {
	_, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")
	srv.Close()

	_, err := c.Login(context.Background())

	assert.True(t, shared.IsTransportError(err))
}

func TestClient_ServerErrorIsUpstreamError(t *testing.T) {
	fp, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")
	fp.configure(func(fp *fakePortal) {
		fp.dataHandler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`<html>bad gateway</html>`))
		}
	})

	_, err := c.Request(context.Background(), http.MethodGet, "/students/1234567/grades", nil)

	var upstream *shared.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
	assert.Contains(t, string(upstream.Payload), "bad gateway")
}

func TestClient_DownloadDidactic(t *testing.T) {
	fp, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")
	fp.configure(func(fp *fakePortal) {
		fp.dataHandler = func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/students/1234567/didactics/item/77":
				w.Header().Set("Content-Type", "application/pdf")
				w.Header().Set("Content-Disposition", `attachment; filename="compiti.pdf"`)
				_, _ = w.Write([]byte("%PDF-1.4"))
			default:
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"item":{"link":"https://example.org"}}`))
			}
		}
	})

	att, err := c.DownloadDidactic(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "compiti.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, []byte("%PDF-1.4"), att.Data)

	_, err = c.DownloadDidactic(context.Background(), "78")
	assert.True(t, shared.IsUpstreamError(err))
}

func TestClient_DownloadDidacticRecoversFromExpiry(t *testing.T) {
	fp, srv := newFakePortal(t)
	c := newTestClient(srv, "secret")
	fp.configure(func(fp *fakePortal) {
		fp.dataHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte{0x01, 0x02})
		}
	})
	_, err := c.Login(context.Background())
	require.NoError(t, err)
	fp.invalidateToken()

	att, err := c.DownloadDidactic(context.Background(), "9")

	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, att.Data)
	assert.EqualValues(t, 2, fp.logins.Load())
}

func TestTokenExpiredDetection(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"error":"Auth token expired"}`, true},
		{`{"error":"108:auth token expired: please login"}`, true},
		{`{"error":"something else"}`, false},
		{`{"error":{"code":"auth token expired"}}`, false},
		{`{"grades":[{"notesForFamily":"auth token expired"}]}`, false},
		{`[1,2,3]`, false},
		{`%PDF-1.4 binary`, false},
		{``, false},
	}

	for _, tt := range tests {
		r := &response{body: []byte(tt.body)}
		assert.Equal(t, tt.want, r.tokenExpired(), tt.body)
	}
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "agenda", endpointLabel("/students/123/agenda/all/20240101/20240131"))
	assert.Equal(t, "grades", endpointLabel("/students/123/grades"))
	assert.Equal(t, "auth_login", endpointLabel("/auth/login/"))
}

func TestFingerprintHidesToken(t *testing.T) {
	fp := fingerprint("very-secret-token")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
	assert.Equal(t, fp, fingerprint("very-secret-token"))
	assert.Empty(t, fingerprint(""))
}
