package host

import (
	"context"
	"fmt"
	"log/slog"
)

// PrincipalManager is implemented by authorizers whose allowlist can be
// edited through the host, such as *guard.Allowlist.
type PrincipalManager interface {
	Add(principal string) error
	Remove(principal string) bool
	List() []string
}

// AddPrincipal allows principal. The caller must itself be authorized.
func (h *Host) AddPrincipal(ctx context.Context, caller, principal string) error {
	_, err := withPrincipals(ctx, h, "add_principal", caller, func(seq int64, pm PrincipalManager) (struct{}, error) {
		if err := pm.Add(principal); err != nil {
			return struct{}{}, err
		}
		h.sink.Log(slog.LevelInfo, "principal added", "seq", seq, "principal", principal, "caller", caller)
		return struct{}{}, nil
	})
	return err
}

// RemovePrincipal revokes principal and reports whether it was allowed.
func (h *Host) RemovePrincipal(ctx context.Context, caller, principal string) (bool, error) {
	return withPrincipals(ctx, h, "remove_principal", caller, func(seq int64, pm PrincipalManager) (bool, error) {
		removed := pm.Remove(principal)
		h.sink.Log(slog.LevelInfo, "principal removed", "seq", seq, "principal", principal, "present", removed, "caller", caller)
		return removed, nil
	})
}

// Principals lists the allowed principals.
func (h *Host) Principals(ctx context.Context, caller string) ([]string, error) {
	return withPrincipals(ctx, h, "list_principals", caller, func(_ int64, pm PrincipalManager) ([]string, error) {
		return pm.List(), nil
	})
}

func withPrincipals[T any](ctx context.Context, h *Host, op, caller string, fn func(seq int64, pm PrincipalManager) (T, error)) (T, error) {
	return submit(ctx, h, op, caller, func(seq int64) (T, error) {
		var zero T
		pm, ok := h.authorizer.(PrincipalManager)
		if !ok {
			return zero, fmt.Errorf("%s: authorizer %T does not manage principals", op, h.authorizer)
		}
		return fn(seq, pm)
	})
}
