package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http/httptest"
	"testing"
)

func TestTokenHashDeterministic(t *testing.T) {
	hasher := NewHasher("secret")
	first := hasher.TokenHash("abc")
	second := hasher.TokenHash("abc")
	if first != second {
		t.Fatal("same input must hash identically")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}

	sum := sha256.Sum256([]byte("secret:abc"))
	if first != hex.EncodeToString(sum[:]) {
		t.Fatal("digest scheme changed")
	}
}

func TestSecretSeparatesIdentities(t *testing.T) {
	if NewHasher("a").TokenHash("abc") == NewHasher("b").TokenHash("abc") {
		t.Fatal("different secrets must produce different digests")
	}
}

func TestFingerprintHashInputs(t *testing.T) {
	hasher := NewHasher("secret")
	base := hasher.FingerprintHash("203.0.113.9", "Mozilla/5.0")
	if base != hasher.FingerprintHash("203.0.113.9", "Mozilla/5.0") {
		t.Fatal("fingerprint must be deterministic")
	}
	if base == hasher.FingerprintHash("203.0.113.10", "Mozilla/5.0") {
		t.Fatal("different IPs must produce different fingerprints")
	}
	if base == hasher.FingerprintHash("203.0.113.9", "curl/8.0") {
		t.Fatal("different user agents must produce different fingerprints")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		realIP     string
		want       string
	}{
		{name: "socket address", remoteAddr: "198.51.100.4:52110", want: "198.51.100.4"},
		{name: "x-forwarded-for first entry", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9, 10.0.0.2", want: "203.0.113.9"},
		{name: "x-real-ip fallback", remoteAddr: "10.0.0.1:80", realIP: "203.0.113.7", want: "203.0.113.7"},
		{name: "forwarded wins over real-ip", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9", realIP: "203.0.113.7", want: "203.0.113.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
