package oidc

import (
	"context"

	"github.com/stagepass/session-service/internal/identity"
)

// InsecureVerifier implements a verifier that does NOT validate signatures.
// Only intended for local/integration tests under explicit opt-in via env var.
type InsecureVerifier struct{}

func NewInsecureVerifier() *InsecureVerifier { return &InsecureVerifier{} }

func (v *InsecureVerifier) Verify(ctx context.Context, raw string) (map[string]interface{}, error) {
	tr, err := identity.DecodeToken(raw)
	if err != nil {
		return nil, err
	}
	return tr.Claims, nil
}
