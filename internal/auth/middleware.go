// Package auth guards write endpoints with static API keys. Keys are configured
// either in plain text or as bcrypt hashes.
package auth

import (
	"net/http"
)

// Authenticator checks bearer tokens against a fixed key set.
type Authenticator struct {
	plain  []string
	hashed []string
}

// NewAuthenticator creates an Authenticator. Entries that look like bcrypt hashes
// are verified with bcrypt, everything else with a constant-time comparison.
func NewAuthenticator(keys []string) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if IsHash(k) {
			a.hashed = append(a.hashed, k)
		} else {
			a.plain = append(a.plain, k)
		}
	}
	return a
}

// AuthResult contains the result of an authentication attempt
type AuthResult struct {
	Authenticated bool
	Error         string
}

// Authenticate checks the Authorization header of a request.
func (a *Authenticator) Authenticate(authHeader string) AuthResult {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return AuthResult{Error: "missing bearer token"}
	}

	// compare against every plain key so timing does not reveal which one matched
	matched := false
	for _, k := range a.plain {
		if VerifyAPIKeyConstantTime(token, k) {
			matched = true
		}
	}
	if matched {
		return AuthResult{Authenticated: true}
	}

	for _, h := range a.hashed {
		if VerifyAPIKey(token, h) {
			return AuthResult{Authenticated: true}
		}
	}
	return AuthResult{Error: "invalid token"}
}

// RequireAuth is a middleware that rejects unauthenticated requests through onFail.
func (a *Authenticator) RequireAuth(onFail func(w http.ResponseWriter, r *http.Request, reason string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Authenticate(r.Header.Get("Authorization"))
			if !result.Authenticated {
				onFail(w, r, result.Error)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
