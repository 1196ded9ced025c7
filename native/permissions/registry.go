package permissions

import (
	"errors"
	"strings"

	"tierlend/crypto"
)

// Role names recognised by the protocol. Parameter setters require ROLE_ADMIN,
// attestation submissions require ROLE_ATTESTOR and automation sweeps require
// ROLE_KEEPER.
const (
	RoleAdmin    = "ROLE_ADMIN"
	RoleAttestor = "ROLE_ATTESTOR"
	RoleKeeper   = "ROLE_KEEPER"
	RoleReserve  = "ROLE_RESERVE"
)

var (
	ErrRoleRequired    = errors.New("permissions: caller lacks required role")
	ErrUnknownRole     = errors.New("permissions: unknown role")
	ErrNilState        = errors.New("permissions: state not configured")
	ErrInvalidGrantee  = errors.New("permissions: grantee address required")
	ErrAdminOnlyChange = errors.New("permissions: only admin may change grants")
)

var knownRoles = map[string]struct{}{
	RoleAdmin:    {},
	RoleAttestor: {},
	RoleKeeper:   {},
	RoleReserve:  {},
}

type registryState interface {
	GetRoleMembers(role string) ([]crypto.Address, error)
	PutRoleMembers(role string, members []crypto.Address) error
}

// Registry resolves role membership against the ledger. It replaces the
// inheritance-based access mixins of older deployments with explicit
// capability checks composed into each operation.
type Registry struct {
	state registryState
}

// NewRegistry constructs a registry backed by the provided state.
func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// SetState wires the registry to the persistence layer.
func (r *Registry) SetState(state registryState) {
	if r == nil {
		return
	}
	r.state = state
}

// HasRole reports whether the address currently holds the role.
func (r *Registry) HasRole(addr crypto.Address, role string) (bool, error) {
	if r == nil || r.state == nil {
		return false, ErrNilState
	}
	normalized, err := normalizeRole(role)
	if err != nil {
		return false, err
	}
	members, err := r.state.GetRoleMembers(normalized)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member.Equal(addr) {
			return true, nil
		}
	}
	return false, nil
}

// RequireRole returns ErrRoleRequired unless the caller holds the role.
func (r *Registry) RequireRole(caller crypto.Address, role string) error {
	ok, err := r.HasRole(caller, role)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoleRequired
	}
	return nil
}

// Grant adds the grantee to the role. Only an existing admin may mutate
// grants; Bootstrap seeds the first admin.
func (r *Registry) Grant(caller, grantee crypto.Address, role string) error {
	if err := r.RequireRole(caller, RoleAdmin); err != nil {
		if errors.Is(err, ErrRoleRequired) {
			return ErrAdminOnlyChange
		}
		return err
	}
	return r.addMember(grantee, role)
}

// Revoke removes the grantee from the role.
func (r *Registry) Revoke(caller, grantee crypto.Address, role string) error {
	if err := r.RequireRole(caller, RoleAdmin); err != nil {
		if errors.Is(err, ErrRoleRequired) {
			return ErrAdminOnlyChange
		}
		return err
	}
	if r == nil || r.state == nil {
		return ErrNilState
	}
	normalized, err := normalizeRole(role)
	if err != nil {
		return err
	}
	members, err := r.state.GetRoleMembers(normalized)
	if err != nil {
		return err
	}
	filtered := members[:0]
	for _, member := range members {
		if !member.Equal(grantee) {
			filtered = append(filtered, member)
		}
	}
	return r.state.PutRoleMembers(normalized, filtered)
}

// Bootstrap installs the initial admin. It only succeeds while the admin role
// has no members so a configured genesis admin cannot be displaced.
func (r *Registry) Bootstrap(admin crypto.Address) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if admin.IsZero() {
		return ErrInvalidGrantee
	}
	members, err := r.state.GetRoleMembers(RoleAdmin)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return nil
	}
	return r.state.PutRoleMembers(RoleAdmin, []crypto.Address{admin})
}

func (r *Registry) addMember(grantee crypto.Address, role string) error {
	if r == nil || r.state == nil {
		return ErrNilState
	}
	if grantee.IsZero() {
		return ErrInvalidGrantee
	}
	normalized, err := normalizeRole(role)
	if err != nil {
		return err
	}
	members, err := r.state.GetRoleMembers(normalized)
	if err != nil {
		return err
	}
	for _, member := range members {
		if member.Equal(grantee) {
			return nil
		}
	}
	return r.state.PutRoleMembers(normalized, append(members, grantee))
}

func normalizeRole(role string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(role))
	if _, ok := knownRoles[trimmed]; !ok {
		return "", ErrUnknownRole
	}
	return trimmed, nil
}
