package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(b), err
}

func CheckToken(hash, token string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	return err == nil
}

// GenerateToken returns a random URL safe token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Verifier checks bearer tokens against a bcrypt hash. The last accepted
// token is remembered so callers that reuse one token pay for bcrypt once.
type Verifier struct {
	hash string

	mu       sync.Mutex
	accepted string
}

func NewVerifier(hash string) (*Verifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New("token hash is not a bcrypt hash")
	}
	return &Verifier{hash: hash}, nil
}

// Verify checks an Authorization header value.
func (v *Verifier) Verify(header string) error {
	token, ok := bearer(header)
	if !ok {
		return ErrMissingToken
	}
	v.mu.Lock()
	cached := v.accepted
	v.mu.Unlock()
	if cached != "" && secureEq(cached, token) {
		return nil
	}
	if !CheckToken(v.hash, token) {
		return ErrInvalidToken
	}
	v.mu.Lock()
	v.accepted = token
	v.mu.Unlock()
	return nil
}

// Require rejects requests without a valid bearer token by calling deny.
func (v *Verifier) Require(deny func(w http.ResponseWriter, r *http.Request, err error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r.Header.Get("Authorization")); err != nil {
			deny(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Constant-time string compare helper
func secureEq(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
