// Package auth authenticates HTTP callers. The resulting Session is passed
// explicitly to each handler; nothing is cached process-wide.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// HeaderOTP carries the caller's one-time passcode.
const HeaderOTP = "X-OTP"

// ErrUnauthorized is returned for a missing or invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// Session identifies an authenticated caller.
type Session struct {
	Subject       string
	Method        string
	Authenticated time.Time
}

// Authenticator resolves a request to a Session or ErrUnauthorized.
type Authenticator interface {
	Authenticate(r *http.Request) (Session, error)
}

// Anonymous accepts every request. For local development only.
type Anonymous struct{}

func (Anonymous) Authenticate(*http.Request) (Session, error) {
	return Session{Subject: "anonymous", Method: "none", Authenticated: time.Now()}, nil
}

// TOTPAuthenticator accepts requests whose X-OTP header holds the current
// time-based code for the operator's shared secret. Codes from the adjacent
// 30s windows are also accepted to absorb clock skew.
type TOTPAuthenticator struct {
	secret  string
	subject string
	now     func() time.Time
}

func NewTOTPAuthenticator(secret, subject string) (*TOTPAuthenticator, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	if secret == "" {
		return nil, errors.New("auth: empty totp secret")
	}
	if _, err := totp.GenerateCode(secret, time.Now()); err != nil {
		return nil, errors.Wrap(err, "auth: invalid totp secret")
	}
	if subject == "" {
		subject = "operator"
	}
	return &TOTPAuthenticator{secret: secret, subject: subject, now: time.Now}, nil
}

func (a *TOTPAuthenticator) Authenticate(r *http.Request) (Session, error) {
	code := strings.TrimSpace(r.Header.Get(HeaderOTP))
	if code == "" {
		return Session{}, errors.Wrap(ErrUnauthorized, "missing "+HeaderOTP+" header")
	}
	now := a.now()
	ok, err := totp.ValidateCustom(code, a.secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return Session{}, errors.Wrap(ErrUnauthorized, "invalid one-time code")
	}
	return Session{Subject: a.subject, Method: "totp", Authenticated: now}, nil
}
