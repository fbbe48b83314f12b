package tenant

import (
	"github.com/agilehead/persona/internal/errors"
)

// Mode selects the tenancy behaviour fixed at startup.
type Mode string

const (
	// ModeSingle serves one implicit tenant; any caller-supplied selector,
	// including an empty one, is rejected.
	ModeSingle Mode = "single"
	// ModeMulti requires every request to carry a selector that is a member
	// of the configured allow-list.
	ModeMulti Mode = "multi"
)

// Resolver derives the active tenant for a request from configuration and the
// caller-supplied selector. It is a pure function of (mode, allow-list,
// selector); it has no storage dependency and no side effects.
type Resolver struct {
	mode    Mode
	tenant  string              // single mode tenant
	allowed map[string]struct{} // multi mode allow-list
	order   []string
}

// NewSingle builds a resolver serving exactly one implicit tenant.
func NewSingle(tenantID string) *Resolver {
	return &Resolver{mode: ModeSingle, tenant: tenantID}
}

// NewMulti builds a resolver with an explicit tenant allow-list.
func NewMulti(tenantIDs []string) *Resolver {
	allowed := make(map[string]struct{}, len(tenantIDs))
	order := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		if _, dup := allowed[id]; dup || id == "" {
			continue
		}
		allowed[id] = struct{}{}
		order = append(order, id)
	}
	return &Resolver{mode: ModeMulti, allowed: allowed, order: order}
}

// Mode returns the configured tenancy mode.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Tenants returns the configured tenant identifiers.
func (r *Resolver) Tenants() []string {
	if r.mode == ModeSingle {
		return []string{r.tenant}
	}
	return append([]string(nil), r.order...)
}

// Resolve produces exactly one resolved tenant identifier or a rejection.
// present distinguishes an absent selector from an empty-string selector: in
// single mode an empty-but-present selector is still rejected, while in multi
// mode it counts as missing.
func (r *Resolver) Resolve(selector string, present bool) (string, error) {
	switch r.mode {
	case ModeSingle:
		if present {
			return "", errors.ErrTenantNotAllowed
		}
		return r.tenant, nil
	case ModeMulti:
		if !present || selector == "" {
			return "", errors.ErrTenantRequired
		}
		if _, ok := r.allowed[selector]; !ok {
			return "", errors.ErrTenantNotAllowed
		}
		return selector, nil
	}
	return "", errors.ErrTenantNotAllowed
}
