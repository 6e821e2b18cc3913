// Package storetest is the behavioural suite every warden store backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"ldgate/internal/warden/models"
	"ldgate/internal/warden/ports"
	"ldgate/pkg/domain"
	"ldgate/pkg/platform/sentinel"
)

const (
	catalogItemID = "819543009be949c5b2d40236adcb8166"
	productID     = "9d8db9962594400988f8ddd3fb83cd88"
)

// Suite runs against the store returned by NewStore, called once per test.
type Suite struct {
	suite.Suite
	NewStore func() ports.Store
	store    ports.Store
	now      time.Time
}

func (s *Suite) SetupTest() {
	s.store = s.NewStore()
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *Suite) grant(seats int) *models.Grant {
	account := &models.Account{ID: domain.NewAccountID(), SecretHash: []byte("hash"), CreatedAt: s.now}
	s.Require().NoError(s.store.SaveAccount(context.Background(), account))

	g, err := s.store.SaveGrant(context.Background(), &models.Grant{
		ID:            domain.NewGrantID(),
		AccountID:     account.ID,
		CatalogItemID: catalogItemID,
		ProductID:     productID,
		Seats:         seats,
		CreatedAt:     s.now,
	})
	s.Require().NoError(err)
	return g
}

func (s *Suite) activation(grantID domain.GrantID, machineID string) models.Activation {
	return models.Activation{
		GrantID:     grantID,
		MachineID:   machineID,
		Platform:    "Windows",
		ActivatedAt: s.now,
		LastSeenAt:  s.now,
	}
}

func (s *Suite) TestAccounts() {
	ctx := context.Background()

	s.Run("missing account is not found", func() {
		_, err := s.store.FindAccount(ctx, domain.NewAccountID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("save then find", func() {
		account := &models.Account{ID: domain.NewAccountID(), SecretHash: []byte("h1"), CreatedAt: s.now}
		s.Require().NoError(s.store.SaveAccount(ctx, account))

		got, err := s.store.FindAccount(ctx, account.ID)
		s.Require().NoError(err)
		s.Equal(account.ID, got.ID)
		s.Equal([]byte("h1"), got.SecretHash)
	})

	s.Run("save again rotates secret", func() {
		account := &models.Account{ID: domain.NewAccountID(), SecretHash: []byte("h1"), CreatedAt: s.now}
		s.Require().NoError(s.store.SaveAccount(ctx, account))
		account.SecretHash = []byte("h2")
		s.Require().NoError(s.store.SaveAccount(ctx, account))

		got, err := s.store.FindAccount(ctx, account.ID)
		s.Require().NoError(err)
		s.Equal([]byte("h2"), got.SecretHash)
	})
}

func (s *Suite) TestGrants() {
	ctx := context.Background()

	s.Run("missing grant is not found", func() {
		_, err := s.store.FindGrant(ctx, domain.NewAccountID(), catalogItemID, productID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("upsert keeps original id", func() {
		g := s.grant(1)
		expires := s.now.Add(24 * time.Hour)

		updated, err := s.store.SaveGrant(ctx, &models.Grant{
			ID:            domain.NewGrantID(),
			AccountID:     g.AccountID,
			CatalogItemID: catalogItemID,
			ProductID:     productID,
			Seats:         3,
			ExpiresAt:     &expires,
			CreatedAt:     s.now,
		})
		s.Require().NoError(err)
		s.Equal(g.ID, updated.ID)

		got, err := s.store.FindGrant(ctx, g.AccountID, catalogItemID, productID)
		s.Require().NoError(err)
		s.Equal(g.ID, got.ID)
		s.Equal(3, got.Seats)
		s.Require().NotNil(got.ExpiresAt)
		s.True(expires.Equal(*got.ExpiresAt))
		s.False(got.Revoked)
	})

	s.Run("revoked flag persists", func() {
		g := s.grant(1)
		g.Revoked = true
		_, err := s.store.SaveGrant(ctx, g)
		s.Require().NoError(err)

		got, err := s.store.FindGrant(ctx, g.AccountID, catalogItemID, productID)
		s.Require().NoError(err)
		s.True(got.Revoked)
	})
}

func (s *Suite) TestActivate() {
	ctx := context.Background()

	s.Run("claims free seats then conflicts", func() {
		g := s.grant(2)

		_, created, err := s.store.Activate(ctx, s.activation(g.ID, "m1"), g.Seats)
		s.Require().NoError(err)
		s.True(created)
		_, _, err = s.store.Activate(ctx, s.activation(g.ID, "m2"), g.Seats)
		s.Require().NoError(err)

		_, _, err = s.store.Activate(ctx, s.activation(g.ID, "m3"), g.Seats)
		s.ErrorIs(err, sentinel.ErrConflict)

		list, err := s.store.ListActivations(ctx, g.ID)
		s.Require().NoError(err)
		s.Len(list, 2)
	})

	s.Run("existing machine refreshes last seen", func() {
		g := s.grant(1)
		_, _, err := s.store.Activate(ctx, s.activation(g.ID, "m1"), g.Seats)
		s.Require().NoError(err)

		later := s.activation(g.ID, "m1")
		later.LastSeenAt = s.now.Add(time.Hour)
		got, created, err := s.store.Activate(ctx, later, g.Seats)
		s.Require().NoError(err)
		s.False(created)
		s.True(s.now.Equal(got.ActivatedAt))
		s.True(s.now.Add(time.Hour).Equal(got.LastSeenAt))
	})

	s.Run("refresh at the activation instant is not a new seat", func() {
		g := s.grant(1)
		_, created, err := s.store.Activate(ctx, s.activation(g.ID, "m1"), g.Seats)
		s.Require().NoError(err)
		s.True(created)

		_, created, err = s.store.Activate(ctx, s.activation(g.ID, "m1"), g.Seats)
		s.Require().NoError(err)
		s.False(created)
	})

	s.Run("concurrent activations never exceed seats", func() {
		g := s.grant(3)
		const machines = 20

		var wg sync.WaitGroup
		var granted, conflicts atomic.Int32
		for i := range machines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.store.Activate(ctx, s.activation(g.ID, fmt.Sprintf("machine-%d", i)), g.Seats)
				switch {
				case err == nil:
					granted.Add(1)
				case errors.Is(err, sentinel.ErrConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()

		s.Equal(int32(3), granted.Load())
		s.Equal(int32(machines-3), conflicts.Load())
	})
}

func (s *Suite) TestRelease() {
	ctx := context.Background()
	g := s.grant(2)
	for _, m := range []string{"m1", "m2"} {
		_, _, err := s.store.Activate(ctx, s.activation(g.ID, m), g.Seats)
		s.Require().NoError(err)
	}

	released, err := s.store.Release(ctx, g.ID, []string{"m1", "unknown"})
	s.Require().NoError(err)
	s.Equal(1, released)

	_, _, err = s.store.Activate(ctx, s.activation(g.ID, "m3"), g.Seats)
	s.NoError(err, "released seat is reusable")
}

func (s *Suite) TestPing() {
	s.NoError(s.store.Ping(context.Background()))
}
