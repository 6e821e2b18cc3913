// Package memory is the in-process warden store used for development and
// tests. State is lost on restart.
package memory

import (
	"context"
	"slices"
	"sync"

	"ldgate/internal/warden/models"
	"ldgate/pkg/domain"
	"ldgate/pkg/platform/sentinel"
)

type grantKey struct {
	accountID     domain.AccountID
	catalogItemID string
	productID     string
}

// InMemoryStore implements ports.Store behind a single mutex.
type InMemoryStore struct {
	mu          sync.RWMutex
	accounts    map[domain.AccountID]models.Account
	grants      map[grantKey]models.Grant
	activations map[domain.GrantID]map[string]models.Activation
}

func New() *InMemoryStore {
	return &InMemoryStore{
		accounts:    make(map[domain.AccountID]models.Account),
		grants:      make(map[grantKey]models.Grant),
		activations: make(map[domain.GrantID]map[string]models.Activation),
	}
}

func (s *InMemoryStore) SaveAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *account
	stored.SecretHash = slices.Clone(account.SecretHash)
	if existing, ok := s.accounts[account.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.accounts[account.ID] = stored
	return nil
}

func (s *InMemoryStore) FindAccount(_ context.Context, id domain.AccountID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &account, nil
}

func (s *InMemoryStore) SaveGrant(_ context.Context, grant *models.Grant) (*models.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{grant.AccountID, grant.CatalogItemID, grant.ProductID}
	stored := *grant
	if existing, ok := s.grants[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	s.grants[key] = stored
	return &stored, nil
}

func (s *InMemoryStore) FindGrant(_ context.Context, accountID domain.AccountID, catalogItemID, productID string) (*models.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.grants[grantKey{accountID, catalogItemID, productID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &grant, nil
}

func (s *InMemoryStore) Activate(_ context.Context, activation models.Activation, seats int) (*models.Activation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMachine, ok := s.activations[activation.GrantID]
	if !ok {
		byMachine = make(map[string]models.Activation)
		s.activations[activation.GrantID] = byMachine
	}

	if existing, ok := byMachine[activation.MachineID]; ok {
		existing.LastSeenAt = activation.LastSeenAt
		if activation.Platform != "" {
			existing.Platform = activation.Platform
		}
		byMachine[activation.MachineID] = existing
		return &existing, false, nil
	}
	if len(byMachine) >= seats {
		return nil, false, sentinel.ErrConflict
	}
	byMachine[activation.MachineID] = activation
	return &activation, true, nil
}

func (s *InMemoryStore) ListActivations(_ context.Context, grantID domain.GrantID) ([]models.Activation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Activation, 0, len(s.activations[grantID]))
	for _, a := range s.activations[grantID] {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b models.Activation) int {
		return a.ActivatedAt.Compare(b.ActivatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Release(_ context.Context, grantID domain.GrantID, machineIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byMachine := s.activations[grantID]
	released := 0
	for _, id := range machineIDs {
		if _, ok := byMachine[id]; ok {
			delete(byMachine, id)
			released++
		}
	}
	return released, nil
}

func (s *InMemoryStore) Ping(context.Context) error {
	return nil
}
