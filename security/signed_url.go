package security

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	QueryExpires   = "expires"
	QueryKeyID     = "kid"
	QuerySignature = "signature"
)

var (
	ErrInvalidLinkSignature = errors.New("security: invalid download link signature")
	ErrLinkExpired          = fmt.Errorf("%w: download link expired", core.ErrDeliverableExpired)
)

type signingKey struct {
	id     string
	key    []byte
	window KeyRotationWindow
}

type Option func(*SignedURLIssuer)

func WithKeyID(id string) Option {
	return func(issuer *SignedURLIssuer) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			issuer.active.id = trimmed
		}
	}
}

// WithRetiredKey keeps links signed by an older key valid during window.
func WithRetiredKey(id string, keyMaterial []byte, window KeyRotationWindow) Option {
	return func(issuer *SignedURLIssuer) {
		trimmed := strings.TrimSpace(id)
		key := bytes.TrimSpace(keyMaterial)
		if trimmed == "" || len(key) == 0 {
			return
		}
		issuer.retired = append(issuer.retired, signingKey{id: trimmed, key: normalizeKey(key), window: window})
	}
}

func WithClock(now func() time.Time) Option {
	return func(issuer *SignedURLIssuer) {
		if now != nil {
			issuer.now = now
		}
	}
}

// SignedURLIssuer mints expiring download links of the form
// <base>/<deliverable id>?expires=<unix>&kid=<key id>&signature=<hex>.
type SignedURLIssuer struct {
	baseURL *url.URL
	active  signingKey
	retired []signingKey
	now     func() time.Time
}

func NewSignedURLIssuer(baseURL string, keyMaterial []byte, opts ...Option) (*SignedURLIssuer, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: signing key is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("security: parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("security: base url must be absolute")
	}
	issuer := &SignedURLIssuer{
		baseURL: parsed,
		active:  signingKey{id: "download-v1", key: normalizeKey(key)},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(issuer)
	}
	return issuer, nil
}

func (s *SignedURLIssuer) Issue(_ context.Context, grant core.DeliverableGrant) (string, error) {
	if s == nil {
		return "", fmt.Errorf("security: signed url issuer is nil")
	}
	deliverableID := strings.TrimSpace(grant.DeliverableID)
	if deliverableID == "" {
		return "", fmt.Errorf("security: deliverable id is required")
	}
	if grant.ExpiresAt.IsZero() {
		return "", fmt.Errorf("security: grant expiry is required")
	}
	expires := grant.ExpiresAt.UTC().Unix()

	link := *s.baseURL
	link.Path = strings.TrimRight(link.Path, "/") + "/" + url.PathEscape(deliverableID)
	query := url.Values{}
	query.Set(QueryExpires, strconv.FormatInt(expires, 10))
	query.Set(QueryKeyID, s.active.id)
	query.Set(QuerySignature, hex.EncodeToString(sign(s.active.key, deliverableID, expires)))
	link.RawQuery = query.Encode()
	return link.String(), nil
}

// Verify checks a presented link for deliverableID. The stored deliverable
// still has to be checked for revocation by the caller.
func (s *SignedURLIssuer) Verify(deliverableID string, query url.Values) error {
	if s == nil {
		return fmt.Errorf("security: signed url issuer is nil")
	}
	deliverableID = strings.TrimSpace(deliverableID)
	expires, err := strconv.ParseInt(strings.TrimSpace(query.Get(QueryExpires)), 10, 64)
	if deliverableID == "" || err != nil {
		return ErrInvalidLinkSignature
	}
	presented, err := hex.DecodeString(strings.TrimSpace(query.Get(QuerySignature)))
	if err != nil || len(presented) == 0 {
		return ErrInvalidLinkSignature
	}

	now := s.now().UTC()
	key, ok := s.keyFor(strings.TrimSpace(query.Get(QueryKeyID)), now)
	if !ok {
		return ErrInvalidLinkSignature
	}
	if !hmac.Equal(presented, sign(key, deliverableID, expires)) {
		return ErrInvalidLinkSignature
	}
	if !now.Before(time.Unix(expires, 0).UTC()) {
		return ErrLinkExpired
	}
	return nil
}

func (s *SignedURLIssuer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.active.id
}

func (s *SignedURLIssuer) keyFor(id string, at time.Time) ([]byte, bool) {
	if id == "" || id == s.active.id {
		return s.active.key, true
	}
	for _, candidate := range s.retired {
		if candidate.id == id && candidate.window.Allows(at) {
			return candidate.key, true
		}
	}
	return nil, false
}

// AccessError wraps a Verify failure in the envelope transports render as 403.
func AccessError(err error) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryAuthz, "security: download link rejected").
		WithCode(http.StatusForbidden).
		WithTextCode(core.FulfillmentErrorAccessDenied)
}

func sign(key []byte, deliverableID string, expires int64) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(deliverableID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return mac.Sum(nil)
}

func normalizeKey(value []byte) []byte {
	if len(value) >= 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.DeliverableIssuer = (*SignedURLIssuer)(nil)
