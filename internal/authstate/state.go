package authstate

import (
	"github.com/stagepass/session-service/internal/identity"
	"github.com/stagepass/session-service/internal/profile"
)

// State is the context the manager exposes to the rest of the application.
type State struct {
	AuthenticatedUser *identity.User         `json:"authenticatedUser"`
	UserData          *profile.Profile       `json:"userData"`
	UserStats         *profile.Stats         `json:"userStats"`
	IsLoggedIn        bool                   `json:"isLoggedIn"`
	IsLoggedOut       bool                   `json:"isLoggedOut"`
	IsLoadingAuth     bool                   `json:"isLoadingAuth"`
	IsLoadingUserData bool                   `json:"isLoadingUserData"`
	AdminGroups       map[string]interface{} `json:"adminGroups"`
}

// Phase names the position in the session state machine.
type Phase string

const (
	PhaseUnresolved     Phase = "unresolved"
	PhaseNoIdentity     Phase = "resolved_no_identity"
	PhaseProfilePending Phase = "profile_pending"
	PhaseProfileReady   Phase = "profile_ready"
)

// Phase derives the state machine position from the flags.
func (s State) Phase() Phase {
	switch {
	case s.IsLoadingAuth:
		return PhaseUnresolved
	case s.IsLoggedOut:
		return PhaseNoIdentity
	case s.IsLoadingUserData:
		return PhaseProfilePending
	}
	return PhaseProfileReady
}

// deriveState computes the gate flags from the session and profile presence.
func deriveState(sess identity.Session, user *identity.User, data *profile.Profile, stats *profile.Stats, token *identity.TokenResult) State {
	loggedIn := sess.HasIdentity()
	s := State{
		IsLoadingAuth:     !sess.IsLoaded,
		IsLoggedIn:        loggedIn,
		IsLoggedOut:       sess.IsLoaded && sess.IsEmpty,
		IsLoadingUserData: loggedIn && data == nil,
	}
	if loggedIn {
		if user != nil {
			u := *user
			s.AuthenticatedUser = &u
		}
		s.UserData = data.Clone()
		s.UserStats = stats.Clone()
		s.AdminGroups = token.AdminGroups()
	}
	return s
}
