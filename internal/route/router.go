package route

import (
	"net/url"
	"sync"
)

// Location is the current route.
type Location struct {
	Path     string `json:"path"`
	FullPath string `json:"fullPath"`
}

// ParseLocation splits a request URI into path and full path.
func ParseLocation(raw string) Location {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return Location{Path: raw, FullPath: raw}
	}
	return Location{Path: u.Path, FullPath: u.RequestURI()}
}

// Router is the navigation primitive the session manager drives.
type Router interface {
	Current() Location
	Replace(path string, query url.Values)
}

// MemoryRouter keeps the location in memory and records replacements.
type MemoryRouter struct {
	mu       sync.RWMutex
	loc      Location
	replaced []string
}

func NewMemoryRouter(start string) *MemoryRouter {
	return &MemoryRouter{loc: ParseLocation(start)}
}

func (m *MemoryRouter) Current() Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loc
}

// Navigate moves to raw (a user navigation, not a redirect).
func (m *MemoryRouter) Navigate(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loc = ParseLocation(raw)
}

func (m *MemoryRouter) Replace(path string, query url.Values) {
	target := Redirect{Path: path, Query: query}.URL()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loc = ParseLocation(target)
	m.replaced = append(m.replaced, target)
}

// Replaced returns every Replace target, oldest first.
func (m *MemoryRouter) Replaced() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.replaced...)
}
