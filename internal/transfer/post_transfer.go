package transfer

import "github.com/golang-jwt/jwt/v5"

type PostCreation struct {
	Caption          string
	PlatformCaptions string
	ThreadParts      string
	Platforms        string
	ScheduledTime    string
	IsDraft          bool
}

type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}
