package room

import (
	"slices"
	"sync"

	"github.com/dkeye/Meet/internal/domain"
)

// Holders reports whether any peer in the room holds one of the roles.
type Holders interface {
	AnyHolds(roles []domain.RoleID) bool
}

// Policy evaluates room permissions against the role tables sent at join.
type Policy struct {
	mu               sync.RWMutex
	roles            map[string]domain.Role
	permissions      map[domain.Permission][]domain.RoleID
	allowWhenMissing map[domain.Permission]bool
}

func NewPolicy() *Policy {
	return &Policy{
		roles:            make(map[string]domain.Role),
		permissions:      make(map[domain.Permission][]domain.RoleID),
		allowWhenMissing: make(map[domain.Permission]bool),
	}
}

// Load replaces the role tables.
func (p *Policy) Load(roles map[string]domain.Role, perms domain.RolePermissions, allowWhenMissing []domain.Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles = make(map[string]domain.Role, len(roles))
	for name, r := range roles {
		p.roles[name] = r
	}
	p.permissions = make(map[domain.Permission][]domain.RoleID, len(perms))
	for perm, rs := range perms {
		ids := make([]domain.RoleID, 0, len(rs))
		for _, r := range rs {
			ids = append(ids, r.ID)
		}
		p.permissions[perm] = ids
	}
	p.allowWhenMissing = make(map[domain.Permission]bool, len(allowWhenMissing))
	for _, perm := range allowWhenMissing {
		p.allowWhenMissing[perm] = true
	}
}

// Allowed reports whether a peer holding mine may use perm. Permissions
// listed as allowed when the role is missing are granted while nobody in
// the room holds an authorizing role.
func (p *Policy) Allowed(perm domain.Permission, mine []domain.RoleID, room Holders) bool {
	p.mu.RLock()
	authorized := p.permissions[perm]
	fallback := p.allowWhenMissing[perm]
	p.mu.RUnlock()

	for _, id := range mine {
		if slices.Contains(authorized, id) {
			return true
		}
	}
	if !fallback {
		return false
	}
	return !room.AnyHolds(authorized)
}

// Role looks a role up by id.
func (p *Policy) Role(id domain.RoleID) (domain.Role, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.roles {
		if r.ID == id {
			return r, true
		}
	}
	return domain.Role{}, false
}

func (p *Policy) Roles() map[string]domain.Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Role, len(p.roles))
	for k, v := range p.roles {
		out[k] = v
	}
	return out
}
