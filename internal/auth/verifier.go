package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/vovakirdan/ltchat/internal/core"
)

// Verifier turns bearer tokens into identities.
type Verifier struct {
	cfg *JWTConfig
}

var _ core.Authenticator = (*Verifier)(nil)

// NewVerifier creates a Verifier for tokens signed with cfg.
func NewVerifier(cfg *JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// Authenticate validates credential. An optional "Bearer " prefix is
// stripped. Every failure wraps core.ErrAuthRejected.
func (v *Verifier) Authenticate(_ context.Context, credential string) (core.Identity, error) {
	token := strings.TrimSpace(credential)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return core.Identity{}, fmt.Errorf("%w: missing token", core.ErrAuthRejected)
	}

	claims, err := ValidateToken(v.cfg, token)
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %v", core.ErrAuthRejected, err)
	}

	return core.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
