// Package guard decides which callers may touch the host.
//
// The host asks an Authorizer before every call. Allowlist is the stock
// implementation: a set of principal names that survives restarts through
// Export and Import.
package guard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/lobj/internal/canon"
)

var (
	// ErrUnauthorized is returned when a caller is not allowed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidPrincipal is returned for empty or padded principal names.
	ErrInvalidPrincipal = errors.New("invalid principal")
)

// Authorizer is the predicate consulted before each host call.
type Authorizer interface {
	// Authorize returns nil if caller may proceed, or an error wrapping
	// ErrUnauthorized.
	Authorize(caller string) error
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(caller string) error

// Authorize calls f(caller).
func (f AuthorizerFunc) Authorize(caller string) error {
	return f(caller)
}

// AllowAll authorizes every caller.
var AllowAll Authorizer = AuthorizerFunc(func(string) error { return nil })

// Allowlist authorizes callers whose principal is in the set.
// Safe for concurrent use.
type Allowlist struct {
	mu         sync.RWMutex
	principals map[string]struct{}
}

// NewAllowlist returns an allowlist seeded with principals.
func NewAllowlist(principals ...string) (*Allowlist, error) {
	a := &Allowlist{principals: make(map[string]struct{}, len(principals))}
	for _, p := range principals {
		if err := a.Add(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Authorize implements Authorizer.
func (a *Allowlist) Authorize(caller string) error {
	if !a.Contains(caller) {
		return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
	}
	return nil
}

// Add allows principal. Adding an existing principal is a no-op.
func (a *Allowlist) Add(principal string) error {
	if err := validate(principal); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.principals[principal] = struct{}{}
	return nil
}

// Remove revokes principal and reports whether it was present.
func (a *Allowlist) Remove(principal string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.principals[principal]; !ok {
		return false
	}
	delete(a.principals, principal)
	return true
}

// Contains reports whether principal is allowed.
func (a *Allowlist) Contains(principal string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.principals[principal]
	return ok
}

// Len returns the number of allowed principals.
func (a *Allowlist) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.principals)
}

// List returns the allowed principals in ascending order.
func (a *Allowlist) List() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.principals))
	for p := range a.principals {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Export serializes the allowlist as a canonical JSON array.
func (a *Allowlist) Export() ([]byte, error) {
	data, err := canon.Marshal(a.List())
	if err != nil {
		return nil, fmt.Errorf("export allowlist: %w", err)
	}
	return data, nil
}

// Import replaces the allowlist with the contents of an Export.
// The allowlist is unchanged if data is malformed.
func (a *Allowlist) Import(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	var principals []string
	if err := dec.Decode(&principals); err != nil {
		return fmt.Errorf("import allowlist: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("import allowlist: trailing data")
	}
	if principals == nil {
		return fmt.Errorf("import allowlist: expected JSON array")
	}

	next := make(map[string]struct{}, len(principals))
	for _, p := range principals {
		if err := validate(p); err != nil {
			return fmt.Errorf("import allowlist: %w", err)
		}
		next[p] = struct{}{}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.principals = next
	return nil
}

func validate(principal string) error {
	if principal == "" || strings.TrimSpace(principal) != principal {
		return fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}
	return nil
}
