package functions

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/internal/profile"
)

// Local performs the backfill in-process against a profile store. Used when
// no functions endpoint is configured.
type Local struct {
	store  profile.Store
	source identity.Source
}

func NewLocal(store profile.Store, source identity.Source) *Local {
	return &Local{store: store, source: source}
}

func (l *Local) Backfill(ctx context.Context, req BackfillRequest) error {
	tr, err := l.source.IDTokenResult(ctx, false)
	if err != nil {
		return err
	}
	u := identity.UserFromClaims(tr.Claims)
	if u == nil || u.Email == "" {
		return identity.ErrNoIdentity
	}
	current := &profile.Profile{}
	if g, ok := l.store.(getter); ok {
		p, err := g.Get(ctx, u.Email)
		if err != nil {
			return err
		}
		current = p
	}
	fields := map[string]interface{}{}
	if current.ReferralCode == "" {
		fields["referralCode"] = ReferralCode(u.UID)
	}
	if !current.EmailVerified && u.EmailVerified {
		fields["emailVerified"] = true
	}
	if current.Timezone == "" && req.Timezone != "" {
		fields["timezone"] = req.Timezone
	}
	if len(fields) == 0 {
		return nil
	}
	return l.store.Update(ctx, u.Email, fields)
}

type getter interface {
	Get(ctx context.Context, key string) (*profile.Profile, error)
}

// ReferralCode derives a stable 8-character code from a user id.
func ReferralCode(uid string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(uid))
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}
