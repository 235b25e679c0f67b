package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken marks a malformed or tampered download token.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrTokenExpired marks a well-formed token past its expiry.
	ErrTokenExpired = errors.New("download token expired")
)

// DownloadClaims is what a verified token grants access to.
type DownloadClaims struct {
	RunID     string
	Path      string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates signed artifact download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign returns a token of the form runID.expiry.path.signature.
func (s *SignedURLSigner) Sign(runID, relPath string) (string, time.Time, error) {
	if runID == "" || relPath == "" {
		return "", time.Time{}, fmt.Errorf("run id and path required")
	}
	if strings.Contains(runID, ".") {
		return "", time.Time{}, fmt.Errorf("run id must not contain dots")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedPath := base64.RawURLEncoding.EncodeToString([]byte(relPath))
	token := strings.Join([]string{runID, ts, encodedPath, s.sign(runID, ts, encodedPath)}, ".")
	return token, expiresAt, nil
}

// Verify checks the signature and expiry of a token.
func (s *SignedURLSigner) Verify(token string) (*DownloadClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return nil, ErrInvalidToken
	}
	runID, ts, encodedPath, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(runID, ts, encodedPath)), []byte(signature)) {
		return nil, ErrInvalidToken
	}
	rawPath, err := base64.RawURLEncoding.DecodeString(encodedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims := &DownloadClaims{RunID: runID, Path: string(rawPath), ExpiresAt: time.Unix(expUnix, 0)}
	if s.now().After(claims.ExpiresAt) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

func (s *SignedURLSigner) sign(runID, ts, encodedPath string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(runID + "|" + ts + "|" + encodedPath))
	return hex.EncodeToString(mac.Sum(nil))
}
