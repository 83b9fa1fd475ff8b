package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VoterTokenCookie names the sticky anonymous voter cookie.
const VoterTokenCookie = "poll_voter_token"

const voterTokenLifetime = 365 * 24 * time.Hour

// minVoterTokenLength rejects truncated or tampered cookie values; anything
// shorter is replaced with a fresh token.
const minVoterTokenLength = 10

// VoterToken returns the request's voter token, minting and setting a new one
// when the cookie is missing or implausibly short. The returned token is what
// the caller must hash, which may differ from the inbound cookie.
func VoterToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(VoterTokenCookie); err == nil {
		if token := cookie.Value; len(token) >= minVoterTokenLength {
			return token
		}
	}

	token := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     VoterTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(voterTokenLifetime.Seconds()),
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	return false
}
