package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/models"
)

const defaultIssuer = "tradekub"

var (
	mu        sync.RWMutex
	jwtSecret []byte
	jwtIssuer = defaultIssuer
)

// Claims defines the structure of the JWT payload issued by the identity service.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Broker   string `json:"broker,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the caller identity used by the order lifecycle.
func (c *Claims) Actor() models.Actor {
	role := c.Role
	if role == "" {
		role = models.RoleUser
	}
	return models.Actor{UserID: c.UserID, Username: c.Username, Role: role, Broker: c.Broker}
}

// Configure sets the HMAC secret and expected issuer. It must run before tokens are validated.
func Configure(secret, issuer string) {
	mu.Lock()
	defer mu.Unlock()
	if secret == "" {
		logs.Info("WARNING: JWT secret not configured. Using default insecure secret.")
		secret = "!!REPLACE_THIS_WITH_A_STRONG_SECRET_KEY!!"
	}
	jwtSecret = []byte(secret)
	if issuer == "" {
		issuer = defaultIssuer
	}
	jwtIssuer = issuer
}

func keyAndIssuer() ([]byte, string, error) {
	mu.RLock()
	defer mu.RUnlock()
	if len(jwtSecret) == 0 {
		return nil, "", errors.New("jwt secret not configured")
	}
	return jwtSecret, jwtIssuer, nil
}

// GenerateJWT signs a token for the actor, valid for ttl.
func GenerateJWT(actor models.Actor, ttl time.Duration) (string, error) {
	secret, issuer, err := keyAndIssuer()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := &Claims{
		UserID:   actor.UserID,
		Username: actor.Username,
		Role:     actor.Role,
		Broker:   actor.Broker,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateJWT validates a JWT string and returns the claims if valid.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret, issuer, err := keyAndIssuer()
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
