package utils

import (
	"errors"  // Token validation errors
	"strconv" // Formatting user IDs
	"time"    // Time for token expiration

	"github.com/golang-jwt/jwt/v5" // JWT library
)

// Roles carried in operator tokens
const (
	RoleAdmin    = "admin"    // May approve credits and conversions
	RoleOperator = "operator" // May record payments and wingold drafts
)

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid token")

// JWT Claims
type Claims struct {
	UserID               uint   `json:"user_id"` // Custom claim for user ID
	Role                 string `json:"role"`    // Operator role
	jwt.RegisteredClaims        // Standard JWT claims
}

// GenerateJWT creates a JWT token for a given operator
func GenerateJWT(userID uint, subject, role, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour // Default lifetime
	}
	// Set token claims
	claims := Claims{
		UserID: userID, // Custom claim for user ID
		Role:   role,   // Operator role
		// Standard claims
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,                                  // Recorded as approved_by / reviewed_by
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)), // Token expiry
			IssuedAt:  jwt.NewNumericDate(time.Now()),          // Issued at current time
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims) // Create token with claims
	return token.SignedString([]byte(secret))                  // Sign the token with the secret
}

// ParseJWT parses and validates a JWT token string
func ParseJWT(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil // Return the secret key for validation
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	// Check for parsing errors
	if err != nil {
		return nil, err // Return error if parsing fails
	}
	// Validate token and extract claims
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil // Return claims if valid
	}
	// Return error if token is invalid
	return nil, ErrInvalidToken
}

// Actor is the name recorded on state changes made with these claims
func (c *Claims) Actor() string {
	if c.Subject != "" {
		return c.Subject
	}
	return "user:" + strconv.FormatUint(uint64(c.UserID), 10)
}
