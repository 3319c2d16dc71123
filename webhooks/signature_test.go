package webhooks

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var signatureNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedVerifier(secret string) *SignatureVerifier {
	verifier := NewSignatureVerifier(secret, 5*time.Minute)
	verifier.Now = func() time.Time { return signatureNow }
	return verifier
}

func TestSignatureVerifier_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := SignPayload("whsec_test", signatureNow.Add(-time.Minute), body)

	if err := fixedVerifier("whsec_test").Verify(body, header); err != nil {
		t.Fatalf("verify valid signature: %v", err)
	}
}

func TestSignatureVerifier_AcceptsAnyMatchingV1Signature(t *testing.T) {
	body := []byte(`{"id":"evt_2"}`)
	valid := SignPayload("whsec_test", signatureNow, body)
	header := fmt.Sprintf("t=%d,v1=%s,%s", signatureNow.Unix(), "00ff", valid[len(fmt.Sprintf("t=%d,", signatureNow.Unix())):])

	if err := fixedVerifier("whsec_test").Verify(body, header); err != nil {
		t.Fatalf("expected rotated secret header to verify: %v", err)
	}
}

func TestSignatureVerifier_Rejects(t *testing.T) {
	body := []byte(`{"id":"evt_3"}`)
	cases := map[string]string{
		"empty header":      "",
		"missing timestamp": "v1=abcdef",
		"missing signature": fmt.Sprintf("t=%d", signatureNow.Unix()),
		"malformed time":    "t=yesterday,v1=abcdef",
		"wrong secret":      SignPayload("whsec_other", signatureNow, body),
		"tampered body":     SignPayload("whsec_test", signatureNow, []byte(`{"id":"evt_4"}`)),
		"stale timestamp":   SignPayload("whsec_test", signatureNow.Add(-6*time.Minute), body),
		"future timestamp":  SignPayload("whsec_test", signatureNow.Add(6*time.Minute), body),
		"non hex signature": fmt.Sprintf("t=%d,v1=zz", signatureNow.Unix()),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			err := fixedVerifier("whsec_test").Verify(body, header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestSignatureVerifier_RequiresSecret(t *testing.T) {
	body := []byte(`{}`)
	err := fixedVerifier(" ").Verify(body, SignPayload("", signatureNow, body))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected missing secret to fail verification, got %v", err)
	}
}

func TestSignatureVerifier_DefaultsTolerance(t *testing.T) {
	body := []byte(`{}`)
	verifier := &SignatureVerifier{Secret: "whsec_test", Now: func() time.Time { return signatureNow }}
	if err := verifier.Verify(body, SignPayload("whsec_test", signatureNow.Add(-4*time.Minute), body)); err != nil {
		t.Fatalf("expected default tolerance to accept 4m old delivery: %v", err)
	}
	if err := verifier.Verify(body, SignPayload("whsec_test", signatureNow.Add(-10*time.Minute), body)); err == nil {
		t.Fatalf("expected default tolerance to reject 10m old delivery")
	}
}
