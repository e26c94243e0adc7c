package pisignage

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(url string, basicAuth bool) *Session {
	logger, _ := zap.NewDevelopment()
	jar, _ := cookiejar.New(nil)
	return &Session{
		baseURL:   url,
		username:  "user@example.com",
		password:  "secret",
		basicAuth: basicAuth,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		logger: logger,
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestAuthenticate_DirectToken(t *testing.T) {
	var authPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/session", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		authPayload = decodeBody(t, r)
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	require.NoError(t, s.Authenticate())

	assert.Equal(t, "tok-123", s.currentToken())
	assert.Equal(t, "user@example.com", authPayload["email"])
	assert.Equal(t, true, authPayload["getToken"])
	_, hasOTP := authPayload["otp"]
	assert.False(t, hasOTP)
}

func TestAuthenticate_SuccessWrapperWithNestedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]string{"token": "nested-tok"},
		})
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	require.NoError(t, s.Authenticate())
	assert.Equal(t, "nested-tok", s.currentToken())
}

func TestAuthenticate_ExplicitFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":      false,
			"stat_message": "invalid credentials",
		})
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	err := s.Authenticate()
	require.Error(t, err)

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Message, "invalid credentials")
}

func TestAuthenticate_AmbiguousResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	err := s.Authenticate()
	require.Error(t, err)

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Message, "ambiguous")
}

func TestAuthenticate_OTPFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["otp"] == nil {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"otpRequired":  true,
				"stat_message": "OTP required",
			})
			return
		}
		assert.Equal(t, "424242", body["otp"])
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-after-otp"})
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)

	// First handshake signals OTP, which is a distinct state, not a failure.
	err := s.Authenticate()
	require.ErrorIs(t, err, ErrOTPRequired)

	var authErr *AuthenticationError
	assert.False(t, errors.As(err, &authErr))

	require.NoError(t, s.AuthenticateOTP("424242"))
	assert.Equal(t, "tok-after-otp", s.currentToken())
}

func TestAuthenticate_PlainUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":      false,
			"stat_message": "bad password",
		})
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	err := s.Authenticate()

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
	assert.NotErrorIs(t, err, ErrOTPRequired)
}

func TestAuthenticate_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	s := newTestSession(url, false)
	err := s.Authenticate()

	var connErr *ConnectivityError
	assert.True(t, errors.As(err, &connErr))
}

func TestAuthenticate_BasicMode(t *testing.T) {
	t.Run("any non-error status is success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "user@example.com", user)
			assert.Equal(t, "secret", pass)
			w.Write([]byte(`[]`))
		}))
		defer srv.Close()

		s := newTestSession(srv.URL, true)
		assert.NoError(t, s.Authenticate())
	})

	t.Run("rejected credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		s := newTestSession(srv.URL, true)
		err := s.Authenticate()

		var authErr *AuthenticationError
		assert.True(t, errors.As(err, &authErr))
	})
}

func TestRequest_ImplicitAuthentication(t *testing.T) {
	var authCalls, playerCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			atomic.AddInt32(&authCalls, 1)
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		case "/players":
			atomic.AddInt32(&playerCalls, 1)
			assert.Equal(t, "tok-1", r.URL.Query().Get("token"))
			w.Write([]byte(`[]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)

	// No token yet: the request must authenticate first, never hard-fail.
	_, err := s.request(http.MethodGet, "/players", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&playerCalls))
}

func TestRequest_TokenInBodyOnWrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-w"})
		case "/pitv/p1":
			body := decodeBody(t, r)
			assert.Equal(t, "tok-w", body["token"])
			assert.Equal(t, true, body["status"])
			json.NewEncoder(w).Encode(map[string]bool{"success": true})
		}
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	_, err := s.request(http.MethodPost, "/pitv/p1", map[string]interface{}{"status": true})
	require.NoError(t, err)
}

func TestRequest_ReauthenticatesOnceOn401(t *testing.T) {
	var playerCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			json.NewEncoder(w).Encode(map[string]string{"token": "fresh"})
		case "/players":
			n := atomic.AddInt32(&playerCalls, 1)
			if n == 1 {
				// Simulate an expired token on the first attempt.
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "fresh", r.URL.Query().Get("token"))
			w.Write([]byte(`[{"_id":"p1"}]`))
		}
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	s.setToken("expired")

	raw, err := s.request(http.MethodGet, "/players", nil)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "p1")
	assert.Equal(t, int32(2), atomic.LoadInt32(&playerCalls))
}

func TestRequest_SecondConsecutive401IsAuthFailure(t *testing.T) {
	var playerCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			json.NewEncoder(w).Encode(map[string]string{"token": "still-bad"})
		case "/players":
			atomic.AddInt32(&playerCalls, 1)
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	s.setToken("expired")

	_, err := s.request(http.MethodGet, "/players", nil)
	require.Error(t, err)

	var authErr *AuthenticationError
	assert.True(t, errors.As(err, &authErr))
	// Exactly one retry, never a loop.
	assert.Equal(t, int32(2), atomic.LoadInt32(&playerCalls))
}

func TestRequest_SurfacesServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success":      false,
				"stat_message": "database unavailable",
			})
		}
	}))
	defer srv.Close()

	s := newTestSession(srv.URL, false)
	_, err := s.request(http.MethodGet, "/players", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database unavailable")
}

func TestServerConfig_BaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{
			name: "hosted",
			cfg:  ServerConfig{ServerType: ServerTypeHosted, Host: "acme"},
			want: "https://acme.pisignage.com/api",
		},
		{
			name: "open source default port",
			cfg:  ServerConfig{ServerType: ServerTypeOpenSource, Host: "10.0.0.5"},
			want: "http://10.0.0.5:3000/api",
		},
		{
			name: "open source with TLS",
			cfg:  ServerConfig{ServerType: ServerTypeOpenSource, Host: "signage.local", Port: 8443, UseSSL: true},
			want: "https://signage.local:8443/api",
		},
		{
			name: "player",
			cfg:  ServerConfig{ServerType: ServerTypePlayer, Host: "192.168.1.20", Port: 8000},
			want: "http://192.168.1.20:8000/api",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.BaseURL())
		})
	}
}
