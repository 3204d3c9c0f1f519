package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every token that fails parsing, signature or claim checks.
var ErrInvalidToken = errors.New("invalid token")

const issuer = "omnirouter"

// TokenService issues and validates the HS256 tokens human agents use to reply
type TokenService struct {
	secretKey []byte

	AccessTokenDuration time.Duration // Default: 12 hours
	now                 func() time.Time
}

// JWTClaims represents the claims in our JWT tokens
type JWTClaims struct {
	UserID int64 `json:"user_id"`
	OrgID  int64 `json:"org_id"`
	jwt.RegisteredClaims
}

// NewTokenService creates a new token service
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:           []byte(secretKey),
		AccessTokenDuration: 12 * time.Hour,
		now:                 time.Now,
	}
}

// Issue signs an access token for an agent of an organization.
func (ts *TokenService) Issue(userID, orgID int64) (string, time.Time, error) {
	now := ts.now()
	expiresAt := now.Add(ts.AccessTokenDuration)
	claims := &JWTClaims{
		UserID: userID,
		OrgID:  orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   "user_" + strconv.FormatInt(userID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken checks signature, expiry and issuer, and returns the claims
func (ts *TokenService) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(ts.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
	}
	if claims.OrgID <= 0 {
		return nil, fmt.Errorf("%w: missing org_id", ErrInvalidToken)
	}
	return claims, nil
}
