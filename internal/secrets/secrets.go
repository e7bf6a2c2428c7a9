// Package secrets resolves credentials for tools and triggers.
package secrets

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xiaot623/agentrun/internal/domain"
)

// Resolver returns credentials visible to a tenant and user.
type Resolver interface {
	Resolve(ctx context.Context, tenantID, userID, credentialID string) (*domain.Credential, error)
	List(ctx context.Context, tenantID, userID string) ([]domain.Credential, error)
}

// StaticResolver serves credentials loaded from the config file.
// A credential with an empty UserID is shared by the whole tenant.
type StaticResolver struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
}

var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver indexes creds by id.
func NewStaticResolver(creds []domain.Credential) *StaticResolver {
	r := &StaticResolver{creds: make(map[string]domain.Credential, len(creds))}
	for _, c := range creds {
		r.creds[c.CredentialID] = c
	}
	return r
}

// Put adds or replaces a credential.
func (r *StaticResolver) Put(c domain.Credential) {
	r.mu.Lock()
	r.creds[c.CredentialID] = c
	r.mu.Unlock()
}

func visible(c domain.Credential, tenantID, userID string) bool {
	if c.TenantID != tenantID {
		return false
	}
	return c.UserID == "" || c.UserID == userID
}

// Resolve returns the credential or domain.ErrNoCredential.
func (r *StaticResolver) Resolve(ctx context.Context, tenantID, userID, credentialID string) (*domain.Credential, error) {
	r.mu.RLock()
	c, ok := r.creds[credentialID]
	r.mu.RUnlock()
	if !ok || !visible(c, tenantID, userID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoCredential, credentialID)
	}
	return &c, nil
}

// List returns the visible credentials ordered by id.
func (r *StaticResolver) List(ctx context.Context, tenantID, userID string) ([]domain.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Credential{}
	for _, c := range r.creds {
		if visible(c, tenantID, userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CredentialID < out[j].CredentialID })
	return out, nil
}
