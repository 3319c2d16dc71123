package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// SecretOpener decrypts sealed config values.
type SecretOpener interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type SecretBoxOption func(*SecretBox)

func WithKeyID(id string) SecretBoxOption {
	return func(box *SecretBox) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			box.keyID = trimmed
		}
	}
}

func WithKeyVersion(version int) SecretBoxOption {
	return func(box *SecretBox) {
		if version > 0 {
			box.version = version
		}
	}
}

// SecretBox seals secrets with AES-GCM under the application key.
type SecretBox struct {
	key     []byte
	keyID   string
	version int
}

func NewSecretBox(keyMaterial []byte, opts ...SecretBoxOption) (*SecretBox, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	box := &SecretBox{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(box)
		}
	}
	return box, nil
}

func (b *SecretBox) KeyID() string {
	if b == nil {
		return ""
	}
	return b.keyID
}

func (b *SecretBox) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("security: secret box is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := b.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	return encodeEnvelope(envelope{
		KeyID:      b.keyID,
		Version:    b.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plaintext, nil)),
	})
}

func (b *SecretBox) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("security: secret box is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	if env.KeyID != "" && env.KeyID != b.keyID {
		return nil, fmt.Errorf("security: key id mismatch: got %q want %q", env.KeyID, b.keyID)
	}
	if env.Version > 0 && env.Version != b.version {
		return nil, fmt.Errorf("security: key version mismatch: got %d want %d", env.Version, b.version)
	}
	nonce, err := decodeBase64Field("nonce", env.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeBase64Field("ciphertext", env.Ciphertext)
	if err != nil {
		return nil, err
	}
	gcm, err := b.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("security: invalid nonce size %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// Seal returns value as a sealed string suitable for a config file.
func (b *SecretBox) Seal(ctx context.Context, value string) (string, error) {
	sealed, err := b.Encrypt(ctx, []byte(value))
	if err != nil {
		return "", err
	}
	return string(sealed), nil
}

func (b *SecretBox) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// SecretKeyRing opens values sealed under the current key or any retired key
// still listed, picking the box by the envelope key id.
type SecretKeyRing struct {
	primary *SecretBox
	retired map[string]*SecretBox
}

func NewSecretKeyRing(primary *SecretBox, retired ...*SecretBox) (*SecretKeyRing, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret box is required")
	}
	ring := &SecretKeyRing{primary: primary, retired: map[string]*SecretBox{}}
	for _, box := range retired {
		if box == nil {
			continue
		}
		if box.keyID == primary.keyID {
			return nil, fmt.Errorf("security: retired key id %q collides with the primary key", box.keyID)
		}
		if _, exists := ring.retired[box.keyID]; exists {
			return nil, fmt.Errorf("security: duplicate retired key id %q", box.keyID)
		}
		ring.retired[box.keyID] = box
	}
	return ring, nil
}

func (r *SecretKeyRing) Primary() *SecretBox {
	if r == nil {
		return nil
	}
	return r.primary
}

func (r *SecretKeyRing) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: secret key ring is nil")
	}
	return r.primary.Encrypt(ctx, plaintext)
}

func (r *SecretKeyRing) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("security: secret key ring is nil")
	}
	keyID, err := SealedKeyID(ciphertext)
	if err != nil {
		return nil, err
	}
	if keyID == "" || keyID == r.primary.keyID {
		return r.primary.Decrypt(ctx, ciphertext)
	}
	box, ok := r.retired[keyID]
	if !ok {
		return nil, fmt.Errorf("security: no key registered for key id %q", keyID)
	}
	return box.Decrypt(ctx, ciphertext)
}

// ResolveSecret returns value as is unless it is sealed, in which case it is
// opened with opener.
func ResolveSecret(ctx context.Context, opener SecretOpener, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsSealed(trimmed) {
		return value, nil
	}
	if opener == nil {
		return "", fmt.Errorf("security: sealed value needs an application key")
	}
	plaintext, err := opener.Decrypt(ctx, []byte(trimmed))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var (
	_ SecretOpener = (*SecretBox)(nil)
	_ SecretOpener = (*SecretKeyRing)(nil)
)
