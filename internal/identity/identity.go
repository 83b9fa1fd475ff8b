// Package identity derives the anonymous voter identities used for duplicate
// detection. Raw tokens, addresses, and user agents never reach storage; only
// keyed SHA-256 digests do.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// Hasher produces stable hex digests keyed by a server-side secret. The same
// secret must be used across restarts or every voter identity changes and
// duplicate detection silently resets.
type Hasher struct {
	secret string
}

// NewHasher returns a Hasher keyed with secret.
func NewHasher(secret string) Hasher {
	return Hasher{secret: secret}
}

// TokenHash digests a voter cookie token.
func (h Hasher) TokenHash(token string) string {
	return h.hash(token)
}

// FingerprintHash digests the network fingerprint of a request. Two requests
// from the same address and user agent hash identically, which is the
// intended coarse duplicate signal behind cleared cookies.
func (h Hasher) FingerprintHash(ip, userAgent string) string {
	return h.hash(ip + "|" + userAgent)
}

func (h Hasher) hash(value string) string {
	sum := sha256.Sum256([]byte(h.secret + ":" + value))
	return hex.EncodeToString(sum[:])
}

// ClientIP extracts the originating client address: the first
// X-Forwarded-For entry, then X-Real-IP, then the socket address.
func ClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		candidate := strings.TrimSpace(parts[0])
		if candidate != "" {
			return candidate
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FingerprintFromRequest hashes the request's derived client IP and user
// agent.
func (h Hasher) FingerprintFromRequest(r *http.Request) string {
	return h.FingerprintHash(ClientIP(r), r.UserAgent())
}
