// Package auth implements Basic and Bearer credential checking for
// incoming requests, with per-route requirements overriding a
// server-wide one.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/lume-dev/lume/pkg/request"
)

// ErrUnauthorized is returned when a request carries no acceptable
// credentials. The server answers 401 with a WWW-Authenticate
// challenge.
var ErrUnauthorized = errors.New("auth: unauthorized")

// DefaultRealm is used in challenges when a requirement sets none.
const DefaultRealm = "Authenticated"

// Credential accepts or rejects the value of an Authorization header.
type Credential interface {
	// Scheme is the authentication scheme, e.g. "Basic" or "Bearer".
	Scheme() string

	// Matches reports whether the Authorization header value grants
	// access for this credential.
	Matches(authorization string) bool
}

// Basic is a username/password credential (RFC 7617).
type Basic struct {
	expected string
}

// NewBasic creates a Basic credential for the given username and
// password.
func NewBasic(username, password string) Basic {
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return Basic{expected: "Basic " + encoded}
}

// Scheme returns "Basic".
func (b Basic) Scheme() string { return "Basic" }

// Matches compares in constant time.
func (b Basic) Matches(authorization string) bool {
	return equal(authorization, b.expected)
}

// Token is a bare token credential sent as "Token <value>".
type Token struct {
	expected string
	scheme   string
}

// NewToken creates a Token credential.
func NewToken(token string) Token {
	return Token{scheme: "Token", expected: "Token " + token}
}

// Scheme returns the token scheme.
func (t Token) Scheme() string { return t.scheme }

// Matches compares in constant time.
func (t Token) Matches(authorization string) bool {
	return equal(authorization, t.expected)
}

// NewBearer creates a Bearer token credential (RFC 6750).
func NewBearer(token string) Token {
	return Token{scheme: "Bearer", expected: "Bearer " + token}
}

// Requirement is a set of acceptable credentials plus the realm
// announced in challenges. Any matching credential authorizes the
// request.
type Requirement struct {
	Credentials []Credential
	Realm       string
}

// Require builds a requirement from one or more credentials.
func Require(credentials ...Credential) *Requirement {
	return &Requirement{Credentials: credentials}
}

// WithRealm sets the challenge realm and returns the requirement.
func (r *Requirement) WithRealm(realm string) *Requirement {
	r.Realm = realm
	return r
}

// Check validates the request's Authorization header. It returns nil
// when authorized and ErrUnauthorized otherwise. A nil requirement
// authorizes everything.
func (r *Requirement) Check(req *request.Request) error {
	if r == nil || len(r.Credentials) == 0 {
		return nil
	}
	authorization := req.Headers.Get("Authorization")
	if authorization == "" {
		return ErrUnauthorized
	}
	for _, c := range r.Credentials {
		if c.Matches(authorization) {
			return nil
		}
	}
	return ErrUnauthorized
}

// Challenge renders the WWW-Authenticate header value, using the
// scheme of the first credential.
func (r *Requirement) Challenge() string {
	realm := r.Realm
	if realm == "" {
		realm = DefaultRealm
	}
	scheme := "Basic"
	if len(r.Credentials) > 0 {
		scheme = r.Credentials[0].Scheme()
	}
	return scheme + ` realm="` + realm + `"`
}

// Resolve picks the effective requirement: the route-level one when
// set, else the server-level one, else nil (always authorized).
func Resolve(route, server *Requirement) *Requirement {
	if route != nil {
		return route
	}
	return server
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
