package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// SealedPrefix marks a config value sealed with a SecretBox.
const SealedPrefix = "fulfillment.secret.v1:"

const envelopeAlgorithm = "aes-256-gcm"

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// IsSealed reports whether value carries the sealed envelope prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), SealedPrefix)
}

// SealedKeyID returns the key id a sealed value was sealed with.
func SealedKeyID(value []byte) (string, error) {
	env, err := decodeEnvelope(value)
	if err != nil {
		return "", err
	}
	return env.KeyID, nil
}

func encodeEnvelope(env envelope) ([]byte, error) {
	env.KeyID = strings.TrimSpace(env.KeyID)
	env.Algorithm = strings.ToLower(strings.TrimSpace(env.Algorithm))
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(SealedPrefix), data...), nil
}

func decodeEnvelope(value []byte) (envelope, error) {
	payload := strings.TrimSpace(string(value))
	if payload == "" {
		return envelope{}, fmt.Errorf("security: sealed value is required")
	}
	if !strings.HasPrefix(payload, SealedPrefix) {
		return envelope{}, fmt.Errorf("security: invalid sealed value prefix")
	}
	var parsed envelope
	if err := json.Unmarshal([]byte(strings.TrimPrefix(payload, SealedPrefix)), &parsed); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed.KeyID = strings.TrimSpace(parsed.KeyID)
	parsed.Algorithm = strings.ToLower(strings.TrimSpace(parsed.Algorithm))
	if parsed.Algorithm == "" {
		parsed.Algorithm = envelopeAlgorithm
	}
	if parsed.Algorithm != envelopeAlgorithm {
		return envelope{}, fmt.Errorf("security: unsupported envelope algorithm %q", parsed.Algorithm)
	}
	if strings.TrimSpace(parsed.Ciphertext) == "" {
		return envelope{}, fmt.Errorf("security: envelope ciphertext is required")
	}
	return parsed, nil
}

func decodeBase64Field(name, value string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("security: decode %s: %w", name, err)
	}
	return decoded, nil
}
