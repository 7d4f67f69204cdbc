package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the token body minted by crmctl and accepted by the API.
// Subject and UserID both carry the lead owner id; UserID is kept for clients
// that read it directly.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// Principal returns the caller identity carried by c.
func (c Claims) Principal() Principal {
	return Principal{UserID: c.UserID, Role: c.Role}
}
