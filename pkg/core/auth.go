package core

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// Authentication types accepted by the HTTP transport.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// authDelay pads every check so failures and successes take similar time.
const authDelay = time.Millisecond

// SecureCompareString performs constant-time string comparison
func SecureCompareString(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var weakTokens = []string{
	"password", "secret", "token", "admin", "test", "default",
	"12345", "osm", "conflate", "changeset",
}

// ValidateAuthToken rejects empty, short and guessable tokens.
func ValidateAuthToken(token string) error {
	if token == "" {
		return NewError(ErrInvalidParameter, "Authentication token cannot be empty").
			WithGuidance("Set -http-auth-token or MCP_HTTP_AUTH_TOKEN.")
	}
	if len(token) < 16 {
		return NewError(ErrInvalidParameter, "Authentication token is too short").
			WithGuidance("Use a token with at least 16 characters.")
	}

	lower := strings.ToLower(token)
	for _, weak := range weakTokens {
		if strings.Contains(lower, weak) {
			return NewError(ErrInvalidParameter, "Authentication token appears to be weak").
				WithGuidance("Use a randomly generated token.")
		}
	}
	return nil
}

// AuthResult represents the result of authentication
type AuthResult struct {
	Authorized bool
	Error      string
	Duration   time.Duration
}

func authResult(start time.Time, errMsg string) AuthResult {
	time.Sleep(authDelay)
	return AuthResult{Authorized: errMsg == "", Error: errMsg, Duration: time.Since(start)}
}

// AuthenticateBearer checks an "Authorization: Bearer <token>" header.
func AuthenticateBearer(authHeader, expectedToken string) AuthResult {
	start := time.Now()
	if authHeader == "" {
		return authResult(start, "Missing Authorization header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return authResult(start, "Invalid Authorization header format")
	}
	if !SecureCompareString(token, expectedToken) {
		return authResult(start, "Invalid bearer token")
	}
	return authResult(start, "")
}

// AuthenticateBasic checks basic credentials against "user:password".
func AuthenticateBasic(username, password, expectedCredentials string) AuthResult {
	start := time.Now()
	if username == "" || password == "" {
		return authResult(start, "Missing basic auth credentials")
	}
	if !SecureCompareString(username+":"+password, expectedCredentials) {
		return authResult(start, "Invalid basic auth credentials")
	}
	return authResult(start, "")
}

// Authenticator checks incoming HTTP requests against one configured credential.
type Authenticator struct {
	Type  string
	Token string
}

// Enabled reports whether requests need credentials.
func (a Authenticator) Enabled() bool {
	return a.Type != "" && a.Type != AuthNone
}

// Authenticate checks r according to the configured type.
func (a Authenticator) Authenticate(r *http.Request) AuthResult {
	switch a.Type {
	case "", AuthNone:
		return AuthResult{Authorized: true}
	case AuthBearer:
		return AuthenticateBearer(r.Header.Get("Authorization"), a.Token)
	case AuthBasic:
		username, password, ok := r.BasicAuth()
		if !ok {
			return authResult(time.Now(), "Missing basic auth credentials")
		}
		return AuthenticateBasic(username, password, a.Token)
	default:
		return authResult(time.Now(), "Unknown auth type")
	}
}

// Challenge is the WWW-Authenticate value for the configured type.
func (a Authenticator) Challenge() string {
	if a.Type == AuthBasic {
		return `Basic realm="conflate"`
	}
	return "Bearer"
}
