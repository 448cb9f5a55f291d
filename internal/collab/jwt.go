package collab

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	apperrors "bazaar.dev/realtime/internal/pkg/errors"
)

// TokenTypeAccess is the only token type accepted on a realtime connection.
const TokenTypeAccess = "access"

// Claims is the subset of the issuer's access-token claims used here.
type Claims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// JWTVerifier checks HS256 tokens signed by the auth service.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
}

// NewJWTVerifier creates a verifier. An empty issuer skips the issuer check.
func NewJWTVerifier(signingKey []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey, issuer: issuer}
}

// Verify parses and validates a token and requires type=access.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, apperrors.Unauthorized(apperrors.CodeTokenMissing, "no token provided")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.signingKey, nil
	}, opts...)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, apperrors.Wrap(err, apperrors.CodeTokenInvalid, msg, http.StatusUnauthorized)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, apperrors.Unauthorized(apperrors.CodeTokenInvalid, "invalid token claims")
	}
	if claims.Type != TokenTypeAccess {
		return nil, apperrors.Unauthorized(apperrors.CodeTokenWrongType, "access token required")
	}
	return claims, nil
}
