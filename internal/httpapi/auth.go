package httpapi

import (
	"crypto/hmac"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer checks a static admin token. An empty configured token
// disables auth entirely, which is the expected mode behind localhost.
func authorizeBearer(authHeader, adminToken string) *authError {
	if strings.TrimSpace(adminToken) == "" {
		return nil
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if !hmac.Equal([]byte(presented), []byte(adminToken)) {
		return &authError{
			status:  401,
			code:    "unauthorized",
			message: "admin token mismatch",
		}
	}
	return nil
}
