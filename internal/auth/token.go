package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nikhil/projectdesk/internal/models"
)

// Kind separates staff tokens from external-user tokens.
type Kind string

const (
	KindUser     Kind = "user"
	KindExternal Kind = "external"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrAccountInactive = errors.New("account is no longer active")
)

// Claims identifies the caller of every authenticated request.
type Claims struct {
	UserID int64       `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role,omitempty"`
	Kind   Kind        `json:"kind"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller is a staff admin.
func (c *Claims) IsAdmin() bool {
	return c.Kind == KindUser && c.Role == models.RoleAdmin
}

// IsStaffManager reports whether the caller can manage projects and guests.
func (c *Claims) IsStaffManager() bool {
	return c.Kind == KindUser && (c.Role == models.RoleAdmin || c.Role == models.RoleManager)
}

// IssueToken signs claims with HS256 and the given lifetime.
func IssueToken(secret string, ttl time.Duration, claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(claims.UserID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates signature, algorithm and expiry.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	if claims.Kind != KindUser && claims.Kind != KindExternal {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
