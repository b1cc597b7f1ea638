// Package route evaluates the client's route guard: which paths need a
// signed-in user or an admin, and where to send the user when they don't qualify.
package route

import (
	"net/url"
	"strings"
)

// Rule names the guard rule that produced a redirect.
type Rule string

const (
	RuleLogin  Rule = "login"
	RuleSignup Rule = "signup"
	RuleAdmin  Rule = "admin"
)

// Rules configures the guard. Path lists are prefixes matched on segment boundaries.
type Rules struct {
	AuthRequired  []string
	AdminRequired []string
	LoginPath     string
	SignupPath    string
	HomePath      string
}

// Input is everything the guard looks at.
type Input struct {
	Path          string
	FullPath      string
	IsLoggedIn    bool
	IsLoggedOut   bool
	EmailVerified bool
	// ProfileLoaded and IsAdmin come from the profile document.
	ProfileLoaded bool
	IsAdmin       bool
}

// Redirect is a navigation the guard asks for.
type Redirect struct {
	Rule  Rule
	Path  string
	Query url.Values
}

// URL renders the redirect as a path with query.
func (r Redirect) URL() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

func (r Rules) RequiresAuth(path string) bool  { return matchAny(r.AuthRequired, path) }
func (r Rules) RequiresAdmin(path string) bool { return matchAny(r.AdminRequired, path) }

// Evaluate applies the rules in priority order and returns the first redirect.
func (r Rules) Evaluate(in Input) (Redirect, bool) {
	if r.RequiresAuth(in.Path) && in.IsLoggedOut {
		return Redirect{
			Rule:  RuleLogin,
			Path:  r.LoginPath,
			Query: url.Values{"absolutePath": {in.FullPath}},
		}, true
	}
	if in.Path != r.SignupPath && in.IsLoggedIn && !in.EmailVerified {
		return Redirect{Rule: RuleSignup, Path: r.SignupPath}, true
	}
	if r.RequiresAdmin(in.Path) && in.ProfileLoaded && !in.IsAdmin {
		return Redirect{Rule: RuleAdmin, Path: r.HomePath}, true
	}
	return Redirect{}, false
}

// ShouldRender reports whether protected content at path may be shown.
// While a protected path's session is unconfirmed, a placeholder is shown instead.
func (r Rules) ShouldRender(path string, isLoggedIn bool) bool {
	if r.RequiresAuth(path) || r.RequiresAdmin(path) {
		return isLoggedIn
	}
	return true
}

func matchAny(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if matchPrefix(p, path) {
			return true
		}
	}
	return false
}

func matchPrefix(prefix, path string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return path == "/" || path == ""
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
