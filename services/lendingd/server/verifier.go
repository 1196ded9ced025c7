package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tierlend/crypto"
	"tierlend/native/creditscore"
)

// HTTPVerifier forwards proof blobs to an external attestation verification
// service and maps its response onto an attestation. The service is opaque:
// any transport or decode failure is a verification failure.
type HTTPVerifier struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPVerifier builds a verifier client against the given endpoint.
func NewHTTPVerifier(url string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

type verifyRequest struct {
	Subject string `json:"subject"`
	Kind    string `json:"kind"`
	Proof   string `json:"proof"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	Source    string `json:"source"`
	Score     uint64 `json:"score"`
	IssuedAt  int64  `json:"issuedAt"`
	Nullifier string `json:"nullifier"`
}

// Verify submits the proof and returns the attestation the service vouched
// for, or an error when the proof is declined.
func (v *HTTPVerifier) Verify(subject crypto.Address, kind string, proof []byte) (*creditscore.Attestation, error) {
	payload, err := json.Marshal(verifyRequest{
		Subject: subject.String(),
		Kind:    kind,
		Proof:   base64.StdEncoding.EncodeToString(proof),
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("verifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verifier: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verifier: status %d", resp.StatusCode)
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("verifier: decode response: %w", err)
	}
	if !decoded.Valid {
		return nil, fmt.Errorf("verifier: proof declined")
	}

	att := &creditscore.Attestation{
		Subject:  subject,
		Source:   creditscore.Source(decoded.Source),
		Score:    decoded.Score,
		IssuedAt: decoded.IssuedAt,
	}
	if decoded.Nullifier != "" {
		raw, err := hex.DecodeString(decoded.Nullifier)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("verifier: malformed nullifier")
		}
		copy(att.Nullifier[:], raw)
	}
	return att, nil
}
