package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tierlend/native/creditscore"
)

func TestHTTPVerifierRoundTrip(t *testing.T) {
	subject := makeAddress(0x42)
	nullifier := strings.Repeat("ab", 32)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode verify request: %v", err)
		}
		if req.Subject != subject.String() {
			t.Errorf("unexpected subject %q", req.Subject)
		}
		if req.Kind != "tlsn" {
			t.Errorf("unexpected kind %q", req.Kind)
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{
			Valid:     true,
			Source:    "tradfi",
			Score:     88,
			IssuedAt:  time.Now().Unix(),
			Nullifier: nullifier,
		})
	}))
	defer upstream.Close()

	verifier := NewHTTPVerifier(upstream.URL, 5*time.Second)
	att, err := verifier.Verify(subject, "tlsn", []byte("proof-bytes"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if att.Source != creditscore.SourceTradFi {
		t.Fatalf("unexpected source %q", att.Source)
	}
	if att.Score != 88 {
		t.Fatalf("unexpected score %d", att.Score)
	}
	if att.Nullifier == ([32]byte{}) {
		t.Fatal("nullifier not decoded")
	}
	if err := att.Validate(); err != nil {
		t.Fatalf("attestation should validate: %v", err)
	}
}

func TestHTTPVerifierRejectsDeclinedProof(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Valid: false})
	}))
	defer upstream.Close()

	verifier := NewHTTPVerifier(upstream.URL, 5*time.Second)
	if _, err := verifier.Verify(makeAddress(0x07), "tlsn", []byte("x")); err == nil {
		t.Fatal("declined proof should error")
	}
}

func TestHTTPVerifierRejectsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	verifier := NewHTTPVerifier(upstream.URL, 5*time.Second)
	if _, err := verifier.Verify(makeAddress(0x08), "tlsn", []byte("x")); err == nil {
		t.Fatal("upstream failure should error")
	}
}
