// Package redis implements repository.CreditRepository on Redis.
//
// Balances are plain integer keys ("credits:<userID>"). Grant is INCRBY, which
// Redis applies atomically. Debit runs a Lua script, so the balance check and
// the DECRBY execute as one command that no other client can interleave with.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository"
)

var _ repository.CreditRepository = (*Store)(nil)

const keyPrefix = "credits:"

// debitScript: KEYS[1] = balance key, ARGV[1] = amount.
// Returns {ok, remaining}; a missing key counts as a zero balance.
const debitScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if current < amount then
  return {0, 0}
end
local remaining = redis.call("DECRBY", KEYS[1], amount)
return {1, remaining}
`

// Store is a Redis-backed credit ledger.
type Store struct {
	client *goredis.Client
	debit  *goredis.Script
}

// NewStore wraps an existing client.
func NewStore(client *goredis.Client) *Store {
	return &Store{
		client: client,
		debit:  goredis.NewScript(debitScript),
	}
}

// Dial creates a client for addr and verifies it answers PING.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: pinging %s: %w", addr, err)
	}
	return NewStore(client), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func balanceKey(userID string) string {
	return keyPrefix + userID
}

func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	credits, err := s.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperror.StorageUnavailable("get balance", err)
	}
	return credits, nil
}

func (s *Store) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	credits, err := s.client.IncrBy(ctx, balanceKey(userID), amount).Result()
	if err != nil {
		return 0, classifyGrantError(err)
	}
	return credits, nil
}

// classifyGrantError separates Redis refusing an overflowing INCRBY (the key
// is left untouched) from a failed round-trip.
func classifyGrantError(err error) error {
	if strings.Contains(err.Error(), "would overflow") {
		return apperror.ValidationFailed("amount", "grant would overflow the balance")
	}
	return apperror.StorageUnavailable("grant", err)
}

func (s *Store) Debit(ctx context.Context, userID string, amount int64) (model.DebitResult, error) {
	res, err := s.debit.Run(ctx, s.client, []string{balanceKey(userID)}, amount).Int64Slice()
	if err != nil {
		return model.DebitResult{}, apperror.StorageUnavailable("debit", err)
	}
	return parseDebitReply(res)
}

func parseDebitReply(res []int64) (model.DebitResult, error) {
	if len(res) != 2 {
		return model.DebitResult{}, apperror.StorageUnavailable("debit",
			fmt.Errorf("redis: unexpected debit reply %v", res))
	}
	if res[0] != 1 {
		return model.DebitResult{OK: false, Remaining: 0}, nil
	}
	return model.DebitResult{OK: true, Remaining: res[1]}, nil
}
