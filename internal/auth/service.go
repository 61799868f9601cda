package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"finreport/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
)

// SubjectLength is the number of hex characters of the credential hash kept as the subject.
const SubjectLength = 16

var placeholderKeys = map[string]struct{}{
	"your_api_key_here":   {},
	"your_api_key":        {},
	"your-api-key":        {},
	"api_key_here":        {},
	"insert_api_key_here": {},
	"changeme":            {},
	"placeholder":         {},
	"none":                {},
	"null":                {},
	"xxx":                 {},
}

// Service issues and verifies signed bearer tokens.
type Service struct {
	secret     []byte
	method     jwt.SigningMethod
	tokenTTL   time.Duration
	headerName string
	now        func() time.Time
}

// NewService constructs an auth service signing with an HMAC algorithm.
func NewService(secret, algorithm string, ttl time.Duration) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret required")
	}
	method := jwt.GetSigningMethod(strings.ToUpper(algorithm))
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		secret:     []byte(secret),
		method:     method,
		tokenTTL:   ttl,
		headerName: "Authorization",
		now:        time.Now,
	}, nil
}

// SubjectFor derives the stable user id of a credential without storing it.
func SubjectFor(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:SubjectLength]
}

// IsPlaceholderKey reports credentials that are empty or copied from sample configs.
func IsPlaceholderKey(apiKey string) bool {
	k := strings.ToLower(strings.TrimSpace(apiKey))
	if k == "" {
		return true
	}
	if _, ok := placeholderKeys[k]; ok {
		return true
	}
	return strings.Contains(k, "your_api_key") || strings.Contains(k, "<api")
}

// Login exchanges a credential for a token. It returns the token and the subject.
func (s *Service) Login(apiKey string) (string, string, error) {
	if IsPlaceholderKey(apiKey) {
		return "", "", apperr.New(apperr.KindAuth, "a valid api key is required")
	}
	subject := SubjectFor(strings.TrimSpace(apiKey))
	token, err := s.IssueToken(subject)
	if err != nil {
		return "", "", err
	}
	return token, subject, nil
}

// IssueToken signs a token for the subject with sub, iat and exp claims.
func (s *Service) IssueToken(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm and expiry and returns the subject.
func (s *Service) ValidateToken(authToken string) (string, error) {
	if authToken == "" {
		return "", errors.New("token required")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(authToken, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("token expired")
		}
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
