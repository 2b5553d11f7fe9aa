package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/frkb/fingerprint-sync-go/pkg/config"
)

// ErrInvalidCredentials is returned when the admin login does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// VerifyAdminPassword checks a plaintext password against the configured
// bcrypt hash. Admin auth is disabled entirely while no hash is configured.
func VerifyAdminPassword(username, password string) error {
	if config.AdminPasswordHash == "" {
		return errors.New("admin authentication not configured")
	}
	if username != config.AdminUser {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(config.AdminPasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GenerateAdminToken creates a signed admin JWT.
func GenerateAdminToken(username string) (string, error) {
	if config.JWTSecret == "" {
		return "", errors.New("JWT secret not configured")
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  username,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(config.AdminTokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.JWTSecret))
}

// ValidateAdminToken validates an admin JWT and returns its claims. With no
// secret configured nothing can be validated; accepting tokens verified
// against the empty key would let anyone mint admin access.
func ValidateAdminToken(tokenString string) (jwt.MapClaims, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return nil, errors.New("insufficient role")
	}
	return claims, nil
}
