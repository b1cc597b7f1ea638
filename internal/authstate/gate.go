package authstate

// StateReader is what gating consumers need from the manager.
type StateReader interface {
	Snapshot() State
}

// LoggedIn reports whether content reserved for signed-in users may render:
// the session is resolved and an identity is present.
func LoggedIn(s State) bool {
	return !s.IsLoadingAuth && s.IsLoggedIn && s.AuthenticatedUser != nil
}

// ProfileLoaded reports whether the profile document has been delivered.
func ProfileLoaded(s State) bool {
	return s.UserData != nil
}
