// Package redis is the shared warden store for multi-instance deployments.
// Records are JSON values; seats live in one hash per grant so that seat
// claims can be made atomically by a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ldgate/internal/warden/models"
	"ldgate/pkg/domain"
	"ldgate/pkg/platform/sentinel"
)

const (
	accountKeyPrefix    = "warden:account:"
	grantKeyPrefix      = "warden:grant:"
	activationKeyPrefix = "warden:seats:"
)

// activateScript refreshes a known machine or claims a free seat.
// KEYS[1] seats hash; ARGV: machine id, seats, last seen, platform, new record.
// Returns {created, record}, or nil when every seat is held.
var activateScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
  local a = cjson.decode(existing)
  a.last_seen_at = ARGV[3]
  if ARGV[4] ~= '' then a.platform = ARGV[4] end
  local out = cjson.encode(a)
  redis.call('HSET', KEYS[1], ARGV[1], out)
  return {0, out}
end
if redis.call('HLEN', KEYS[1]) >= tonumber(ARGV[2]) then
  return false
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[5])
return {1, ARGV[5]}
`)

// RedisStore implements ports.Store on go-redis.
type RedisStore struct {
	client *redis.Client
}

// New constructs a Redis-backed store. The client lifecycle is managed by the caller.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type accountRecord struct {
	ID         string    `json:"id"`
	SecretHash []byte    `json:"secret_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

type grantRecord struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"account_id"`
	CatalogItemID string     `json:"catalog_item_id"`
	ProductID     string     `json:"product_id"`
	Seats         int        `json:"seats"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Revoked       bool       `json:"revoked"`
	CreatedAt     time.Time  `json:"created_at"`
}

type activationRecord struct {
	GrantID     string    `json:"grant_id"`
	MachineID   string    `json:"machine_id"`
	Platform    string    `json:"platform"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func grantKey(accountID domain.AccountID, catalogItemID, productID string) string {
	return grantKeyPrefix + accountID.String() + ":" + catalogItemID + ":" + productID
}

func (s *RedisStore) SaveAccount(ctx context.Context, account *models.Account) error {
	key := accountKeyPrefix + account.ID.String()
	record := accountRecord{ID: account.ID.String(), SecretHash: account.SecretHash, CreatedAt: account.CreatedAt}

	existing, err := s.getAccount(ctx, key)
	if err == nil {
		record.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *RedisStore) FindAccount(ctx context.Context, id domain.AccountID) (*models.Account, error) {
	record, err := s.getAccount(ctx, accountKeyPrefix+id.String())
	if err != nil {
		return nil, err
	}
	return &models.Account{ID: id, SecretHash: record.SecretHash, CreatedAt: record.CreatedAt}, nil
}

func (s *RedisStore) getAccount(ctx context.Context, key string) (*accountRecord, error) {
	var record accountRecord
	if err := s.getJSON(ctx, key, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *RedisStore) SaveGrant(ctx context.Context, grant *models.Grant) (*models.Grant, error) {
	key := grantKey(grant.AccountID, grant.CatalogItemID, grant.ProductID)
	stored := *grant

	var existing grantRecord
	err := s.getJSON(ctx, key, &existing)
	switch {
	case err == nil:
		id, parseErr := uuid.Parse(existing.ID)
		if parseErr != nil {
			return nil, fmt.Errorf("decode grant id: %w", parseErr)
		}
		stored.ID = domain.GrantID(id)
		stored.CreatedAt = existing.CreatedAt
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, err
	}

	payload, err := json.Marshal(grantRecord{
		ID:            stored.ID.String(),
		AccountID:     stored.AccountID.String(),
		CatalogItemID: stored.CatalogItemID,
		ProductID:     stored.ProductID,
		Seats:         stored.Seats,
		ExpiresAt:     stored.ExpiresAt,
		Revoked:       stored.Revoked,
		CreatedAt:     stored.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode grant: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, 0).Err(); err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}
	return &stored, nil
}

func (s *RedisStore) FindGrant(ctx context.Context, accountID domain.AccountID, catalogItemID, productID string) (*models.Grant, error) {
	var record grantRecord
	if err := s.getJSON(ctx, grantKey(accountID, catalogItemID, productID), &record); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return nil, fmt.Errorf("decode grant id: %w", err)
	}
	return &models.Grant{
		ID:            domain.GrantID(id),
		AccountID:     accountID,
		CatalogItemID: record.CatalogItemID,
		ProductID:     record.ProductID,
		Seats:         record.Seats,
		ExpiresAt:     record.ExpiresAt,
		Revoked:       record.Revoked,
		CreatedAt:     record.CreatedAt,
	}, nil
}

func (s *RedisStore) Activate(ctx context.Context, activation models.Activation, seats int) (*models.Activation, bool, error) {
	fresh, err := json.Marshal(toActivationRecord(activation))
	if err != nil {
		return nil, false, fmt.Errorf("encode activation: %w", err)
	}

	reply, err := activateScript.Run(ctx, s.client,
		[]string{activationKeyPrefix + activation.GrantID.String()},
		activation.MachineID,
		seats,
		activation.LastSeenAt.Format(time.RFC3339Nano),
		activation.Platform,
		string(fresh),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, false, sentinel.ErrConflict
	}
	if err != nil {
		return nil, false, fmt.Errorf("activate seat: %w", err)
	}
	if len(reply) != 2 {
		return nil, false, fmt.Errorf("activate seat: unexpected reply length %d", len(reply))
	}
	created, _ := reply[0].(int64)
	payload, ok := reply[1].(string)
	if !ok {
		return nil, false, fmt.Errorf("activate seat: unexpected record type %T", reply[1])
	}

	var record activationRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, false, fmt.Errorf("decode activation: %w", err)
	}
	result := fromActivationRecord(activation.GrantID, record)
	return &result, created == 1, nil
}

func (s *RedisStore) ListActivations(ctx context.Context, grantID domain.GrantID) ([]models.Activation, error) {
	values, err := s.client.HVals(ctx, activationKeyPrefix+grantID.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	out := make([]models.Activation, 0, len(values))
	for _, v := range values {
		var record activationRecord
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, fmt.Errorf("decode activation: %w", err)
		}
		out = append(out, fromActivationRecord(grantID, record))
	}
	return out, nil
}

func (s *RedisStore) Release(ctx context.Context, grantID domain.GrantID, machineIDs []string) (int, error) {
	if len(machineIDs) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, activationKeyPrefix+grantID.String(), machineIDs...).Result()
	if err != nil {
		return 0, fmt.Errorf("release seats: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func toActivationRecord(a models.Activation) activationRecord {
	return activationRecord{
		GrantID:     a.GrantID.String(),
		MachineID:   a.MachineID,
		Platform:    a.Platform,
		ActivatedAt: a.ActivatedAt,
		LastSeenAt:  a.LastSeenAt,
	}
}

func fromActivationRecord(grantID domain.GrantID, r activationRecord) models.Activation {
	return models.Activation{
		GrantID:     grantID,
		MachineID:   r.MachineID,
		Platform:    r.Platform,
		ActivatedAt: r.ActivatedAt,
		LastSeenAt:  r.LastSeenAt,
	}
}
