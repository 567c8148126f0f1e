package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserClaims are the JWT claims the gateway puts on every request. This
// service only reads them; issuing and refreshing tokens happens upstream.
type UserClaims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
