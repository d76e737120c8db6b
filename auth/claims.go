package auth

import "github.com/golang-jwt/jwt/v5"

// Roles a report-server account can hold. Admins manage accounts and read
// submissions; users fill and submit reports.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Claims is the JWT claims structure for report-server sessions. It embeds
// jwt.RegisteredClaims for the standard fields (exp, iat, etc.) and adds
// the account identity the draft and submission records are keyed by.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }
