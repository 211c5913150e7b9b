package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

const AccessTokenType = "access_token"

// GenerateToken signs an HS256 access token carrying the user id.
func GenerateToken(userID, email, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT secret key is missing")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"id":    userID,
		"email": email,
		"type":  AccessTokenType,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "sign access token")
	}
	return signed, nil
}

// ValidateAndGetClaims verifies signature and expiry and returns the claims.
func ValidateAndGetClaims(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// UserID extracts the subject user id from access token claims.
func UserID(claims jwt.MapClaims) (string, error) {
	id, ok := claims["id"].(string)
	if !ok || id == "" {
		return "", errors.New("token has no user id")
	}
	if typ, _ := claims["type"].(string); typ != AccessTokenType {
		return "", errors.New("not an access token")
	}
	return id, nil
}
