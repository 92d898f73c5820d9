package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
)

// JWTSecretKey for signing dashboard user tokens
// REQUIRED: Application will panic if not set
var JWTSecretKey string

var tokenTTL time.Duration

func init() {
	// JWT_SECRET_KEY is REQUIRED (min 32 chars) - app will panic if not configured
	JWTSecretKey = env.MustGetEnvString("JWT_SECRET_KEY")
	tokenTTL = env.GetEnvDurationOrDefault("JWT_TOKEN_TTL", 24*time.Hour)
}

// TokenTTL returns the configured token lifetime.
func TokenTTL() time.Duration {
	return tokenTTL
}

// UserTokenClaims represents the claims in a dashboard user JWT
type UserTokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// GenerateUserToken creates a JWT for a dashboard user
func GenerateUserToken(userID string) (string, error) {
	if JWTSecretKey == "" {
		return "", errors.New("JWT_SECRET_KEY not configured")
	}

	claims := UserTokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(JWTSecretKey))
}

// ValidateUserToken validates a dashboard user JWT and returns the claims
func ValidateUserToken(tokenString string) (*UserTokenClaims, error) {
	if JWTSecretKey == "" {
		return nil, errors.New("JWT_SECRET_KEY not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &UserTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(JWTSecretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserTokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
