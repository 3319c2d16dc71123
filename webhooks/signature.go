package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultSignatureTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("webhooks: invalid signature")

// SignatureVerifier checks headers of the form t=<unix>,v1=<hex>[,v1=<hex>]
// where each v1 is HMAC-SHA256(secret, "<t>.<body>").
type SignatureVerifier struct {
	Secret    string
	Tolerance time.Duration
	Now       func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) *SignatureVerifier {
	return &SignatureVerifier{
		Secret:    secret,
		Tolerance: tolerance,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (v *SignatureVerifier) Verify(rawBody []byte, header string) error {
	if v == nil {
		return fmt.Errorf("%w: verifier is not configured", ErrInvalidSignature)
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("%w: signing secret is not configured", ErrInvalidSignature)
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return err
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	delta := now.Sub(time.Unix(timestamp, 0).UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance window", ErrInvalidSignature)
	}

	expected := computeSignature(secret, timestamp, rawBody)
	for _, candidate := range signatures {
		decoded, decodeErr := hex.DecodeString(candidate)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrInvalidSignature)
}

// SignPayload builds a header value accepted by SignatureVerifier.
func SignPayload(secret string, timestamp time.Time, rawBody []byte) string {
	unix := timestamp.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(computeSignature(secret, unix, rawBody)))
}

func computeSignature(secret string, timestamp int64, rawBody []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(rawBody)
	return mac.Sum(nil)
}

func parseSignatureHeader(header string) (int64, []string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: signature header is required", ErrInvalidSignature)
	}
	var (
		timestamp  int64
		hasTime    bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
			timestamp = parsed
			hasTime = true
		case "v1":
			if value = strings.TrimSpace(value); value != "" {
				signatures = append(signatures, value)
			}
		}
	}
	if !hasTime {
		return 0, nil, fmt.Errorf("%w: timestamp is required", ErrInvalidSignature)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature is required", ErrInvalidSignature)
	}
	return timestamp, signatures, nil
}
