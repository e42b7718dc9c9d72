package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"account-api/internal/domain"
)

const firebaseIssuerPrefix = "https://securetoken.google.com/"

var (
	ErrIdentityInvalid = errors.New("identity token invalid")
	ErrIdentityExpired = errors.New("identity token expired")
)

// IdentityVerifier valida un token de un proveedor de identidad externo.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

type identityClaims struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (c identityClaims) identity() (domain.Identity, error) {
	externalID := strings.TrimSpace(c.UserID)
	if externalID == "" {
		externalID = strings.TrimSpace(c.Subject)
	}
	if externalID == "" {
		return domain.Identity{}, ErrIdentityInvalid
	}
	if c.UserID != "" && c.Subject != "" && c.UserID != c.Subject {
		return domain.Identity{}, ErrIdentityInvalid
	}
	return domain.Identity{
		Email:      strings.ToLower(strings.TrimSpace(c.Email)),
		ExternalID: externalID,
	}, nil
}

// JWKSIdentityVerifier valida ID tokens RS256 de Firebase contra el JWKS publico.
type JWKSIdentityVerifier struct {
	keyFunc   jwt.Keyfunc
	projectID string
	issuer    string
	close     func()
}

// NewFirebaseIdentityVerifier descarga el JWKS y lo refresca en background.
func NewFirebaseIdentityVerifier(jwksURL, projectID string, logger *zap.Logger) (*JWKSIdentityVerifier, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("firebase project id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks refresh failed", zap.Error(err))
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("load jwks: %w", err)
	}
	return newJWKSIdentityVerifier(jwks.Keyfunc, projectID, jwks.EndBackground), nil
}

func newJWKSIdentityVerifier(keyFunc jwt.Keyfunc, projectID string, closeFn func()) *JWKSIdentityVerifier {
	return &JWKSIdentityVerifier{
		keyFunc:   keyFunc,
		projectID: projectID,
		issuer:    firebaseIssuerPrefix + projectID,
		close:     closeFn,
	}
}

func (v *JWKSIdentityVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, ErrIdentityInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	var claims identityClaims
	if _, err := parser.ParseWithClaims(token, &claims, v.keyFunc); err != nil {
		return domain.Identity{}, classifyJWTError(err)
	}
	return claims.identity()
}

// Close detiene el refresco del JWKS.
func (v *JWKSIdentityVerifier) Close() {
	if v.close != nil {
		v.close()
	}
}

// HMACIdentityVerifier emite y valida tokens HS256 para entornos locales.
type HMACIdentityVerifier struct {
	secret []byte
	issuer string
}

func NewHMACIdentityVerifier(secret, issuer string) *HMACIdentityVerifier {
	if issuer == "" {
		issuer = "account-api"
	}
	return &HMACIdentityVerifier{secret: []byte(secret), issuer: issuer}
}

// Issue firma un token para identity valido durante ttl.
func (v *HMACIdentityVerifier) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrIdentityInvalid
	}
	if strings.TrimSpace(identity.ExternalID) == "" {
		return "", ErrIdentityInvalid
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now().UTC()
	claims := identityClaims{
		Email:  identity.Email,
		UserID: identity.ExternalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   identity.ExternalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func (v *HMACIdentityVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	if len(v.secret) == 0 {
		return domain.Identity{}, ErrIdentityInvalid
	}
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, ErrIdentityInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	var claims identityClaims
	_, err := parser.ParseWithClaims(token, &claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Identity{}, classifyJWTError(err)
	}
	return claims.identity()
}

func classifyJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrIdentityExpired
	}
	return ErrIdentityInvalid
}
