package pisignage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server variants. Hosted and open-source servers use token authentication;
// standalone players only understand HTTP basic auth.
const (
	ServerTypeHosted     = "hosted"
	ServerTypeOpenSource = "open_source"
	ServerTypePlayer     = "player"
)

const (
	// DefaultPort is the default API port of a self-hosted server.
	DefaultPort = 3000

	requestTimeout = 10 * time.Second
)

// ServerConfig describes how to reach a PiSignage server.
type ServerConfig struct {
	ServerType string
	Host       string
	Port       int
	Username   string
	Password   string
	UseSSL     bool
}

// BaseURL builds the API base URL for the configured server variant.
// Hosted accounts live under <host>.pisignage.com and are always TLS.
func (c ServerConfig) BaseURL() string {
	if c.ServerType == ServerTypeHosted {
		return fmt.Sprintf("https://%s.pisignage.com/api", c.Host)
	}
	protocol := "http"
	if c.UseSSL {
		protocol = "https"
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d/api", protocol, c.Host, port)
}

// Session holds credentials and the current authentication state, and
// executes authenticated requests against the server. All API operations go
// through request so that token handling and the single re-auth retry live in
// one place.
type Session struct {
	baseURL    string
	username   string
	password   string
	basicAuth  bool
	httpClient *http.Client
	logger     *zap.Logger

	mu            sync.Mutex
	token         string
	authenticated bool
	otpCompleted  bool
}

// NewSession creates a session for the configured server variant.
func NewSession(cfg ServerConfig, logger *zap.Logger) *Session {
	// Cookie jar: open-source servers that answer success without a token
	// keep the session alive via cookies instead.
	jar, _ := cookiejar.New(nil)

	return &Session{
		baseURL:   strings.TrimRight(cfg.BaseURL(), "/"),
		username:  cfg.Username,
		password:  cfg.Password,
		basicAuth: cfg.ServerType == ServerTypePlayer,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
		logger: logger.Named("session"),
	}
}

// sessionResponse covers the authentication envelope shapes the server emits.
type sessionResponse struct {
	Token       string          `json:"token"`
	Success     *bool           `json:"success"`
	Data        json.RawMessage `json:"data"`
	StatMessage string          `json:"stat_message"`
	OTPRequired bool            `json:"otpRequired"`
}

// Authenticate performs the authentication handshake. In token mode it posts
// the credentials to /session; in basic-auth mode it smoke-tests the
// credentials with a listing request. Returns ErrOTPRequired when the account
// needs a one-time passcode.
func (s *Session) Authenticate() error {
	return s.authenticate("")
}

// AuthenticateOTP repeats the handshake with the one-time passcode included.
func (s *Session) AuthenticateOTP(passcode string) error {
	if err := s.authenticate(passcode); err != nil {
		return err
	}
	s.mu.Lock()
	s.otpCompleted = true
	s.mu.Unlock()
	return nil
}

func (s *Session) authenticate(otp string) error {
	if s.basicAuth {
		return s.authenticateBasic()
	}

	payload := map[string]interface{}{
		"email":    s.username,
		"password": s.password,
		"getToken": true,
	}
	if otp != "" {
		payload["otp"] = otp
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectivityError{Op: "authenticate", Err: err}
	}

	var parsed sessionResponse
	parseErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode == http.StatusUnauthorized {
		if parseErr == nil && otpNeeded(parsed) {
			s.logger.Info("Server requires a one-time passcode")
			return ErrOTPRequired
		}
		return &AuthenticationError{Message: statMessage(parsed, "credentials rejected")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &AuthenticationError{Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, statMessage(parsed, "no details"))}
	}
	if parseErr != nil {
		s.logger.Error("Authentication response is not valid JSON",
			zap.ByteString("body", raw))
		return &MalformedResponseError{Body: raw, Err: parseErr}
	}

	switch {
	case parsed.Token != "":
		s.setToken(parsed.Token)
		s.logger.Debug("Authentication successful, token received")
		return nil

	case parsed.Success != nil && *parsed.Success:
		// Success wrapper with the token nested in data, or a pure
		// cookie-session server that returns no token at all.
		var data struct {
			Token string `json:"token"`
		}
		if len(parsed.Data) > 0 {
			if err := json.Unmarshal(parsed.Data, &data); err != nil {
				s.logger.Warn("Could not decode auth data field", zap.Error(err))
			}
		}
		s.setToken(data.Token)
		s.logger.Debug("Authentication successful",
			zap.Bool("token_received", data.Token != ""))
		return nil

	case parsed.Success != nil && !*parsed.Success:
		return &AuthenticationError{Message: statMessage(parsed, "authentication rejected")}

	default:
		return &AuthenticationError{Message: "ambiguous response, no token or success flag"}
	}
}

// authenticateBasic smoke-tests basic-auth credentials with a listing GET.
// Any non-error HTTP status counts as success.
func (s *Session) authenticateBasic() error {
	req, err := http.NewRequest(http.MethodGet, s.baseURL+"/players", nil)
	if err != nil {
		return fmt.Errorf("failed to build auth request: %w", err)
	}
	req.SetBasicAuth(s.username, s.password)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &ConnectivityError{Op: "authenticate", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &AuthenticationError{Message: fmt.Sprintf("server rejected basic-auth credentials with status %d", resp.StatusCode)}
	}

	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	return nil
}

func otpNeeded(parsed sessionResponse) bool {
	return parsed.OTPRequired || strings.Contains(strings.ToLower(parsed.StatMessage), "otp")
}

func statMessage(parsed sessionResponse, fallback string) string {
	if parsed.StatMessage != "" {
		return parsed.StatMessage
	}
	return fallback
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.authenticated = true
	s.mu.Unlock()
}

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// request executes one authenticated call and returns the raw response body.
// In token mode the token travels as a query parameter on reads and as a body
// field on writes. A 401/403 answer triggers exactly one re-authentication
// and one retry; a second rejection surfaces as an authentication error
// rather than looping.
func (s *Session) request(method, path string, body map[string]interface{}) ([]byte, error) {
	if !s.basicAuth && !s.isAuthenticated() {
		s.logger.Debug("No session yet, authenticating before request",
			zap.String("path", path))
		if err := s.Authenticate(); err != nil {
			return nil, err
		}
	}

	raw, status, err := s.do(method, path, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if s.basicAuth {
			return nil, &AuthenticationError{Message: fmt.Sprintf("server rejected basic-auth request with status %d", status)}
		}

		s.logger.Warn("Request rejected, re-authenticating once",
			zap.String("path", path),
			zap.Int("status", status))
		s.mu.Lock()
		s.token = ""
		s.authenticated = false
		s.mu.Unlock()

		if err := s.Authenticate(); err != nil {
			return nil, err
		}

		raw, status, err = s.do(method, path, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, &AuthenticationError{Message: "request rejected again after re-authentication"}
		}
	}

	if status < 200 || status >= 300 {
		var parsed sessionResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.StatMessage != "" {
			return nil, fmt.Errorf("server returned status %d: %s", status, parsed.StatMessage)
		}
		return nil, fmt.Errorf("server returned status %d for %s %s", status, method, path)
	}

	return raw, nil
}

// do performs a single HTTP round trip without any retry handling.
func (s *Session) do(method, path string, body map[string]interface{}) ([]byte, int, error) {
	endpoint := s.baseURL + path

	var reqBody io.Reader
	if method == http.MethodGet {
		if token := s.currentToken(); token != "" {
			q := url.Values{}
			q.Set("token", token)
			endpoint += "?" + q.Encode()
		}
	} else {
		payload := make(map[string]interface{}, len(body)+1)
		for k, v := range body {
			payload[k] = v
		}
		if token := s.currentToken(); token != "" {
			payload["token"] = token
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.basicAuth {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, &ConnectivityError{Op: fmt.Sprintf("%s %s", method, path), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &ConnectivityError{Op: fmt.Sprintf("%s %s", method, path), Err: err}
	}

	return raw, resp.StatusCode, nil
}
