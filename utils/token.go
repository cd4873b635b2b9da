package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mmdatafocus/itembills_sync/config"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// JwtCustomClaim identifies the operator calling the sync service.
type JwtCustomClaim struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JwtSecret returns BILLSYNC_JWT_SECRET. An empty secret disables auth.
func JwtSecret() []byte {
	return []byte(config.EnvString("BILLSYNC_JWT_SECRET", ""))
}

func JwtGenerate(secret []byte, subject, role string, lifespan time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if lifespan <= 0 {
		lifespan = time.Hour * time.Duration(config.IntFromEnv("TOKEN_HOUR_LIFESPAN", 12))
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifespan)),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(secret []byte, token string) (*JwtCustomClaim, error) {
	claims := &JwtCustomClaim{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
