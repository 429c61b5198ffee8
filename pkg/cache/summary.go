// Package cache keeps computed loan summaries in Redis so repeated reads for
// the same as-of date skip the ledger scan.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
)

const keyPrefix = "microloan:loan:"

// SummaryCache stores one Redis hash per loan, keyed by as-of date, next to
// a generation counter. Invalidate bumps the counter and drops the hash. Put
// only writes when the counter still matches the value the caller read before
// loading the ledger, so a summary computed from payments that were appended
// to in the meantime is never stored.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

// NewClient builds a Redis client for addr and checks it answers.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func summaryKey(loanID uuid.UUID) string {
	return keyPrefix + loanID.String() + ":summary"
}

func generationKey(loanID uuid.UUID) string {
	return keyPrefix + loanID.String() + ":gen"
}

// KEYS[1] generation, KEYS[2] summary hash.
// ARGV[1] expected generation, ARGV[2] field, ARGV[3] payload, ARGV[4] ttl in ms.
const putScript = `
if tonumber(redis.call("GET", KEYS[1]) or "0") ~= tonumber(ARGV[1]) then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[2], ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call("PEXPIRE", KEYS[2], ARGV[4])
end
return 1
`

// KEYS[1] generation, KEYS[2] summary hash.
const invalidateScript = `
redis.call("INCR", KEYS[1])
redis.call("DEL", KEYS[2])
return 1
`

// Get returns the cached summary for loanID at asOf. A miss is not an error.
func (c *SummaryCache) Get(ctx context.Context, loanID uuid.UUID, asOf civil.Date) (*models.LoanSummary, bool, error) {
	raw, err := c.client.HGet(ctx, summaryKey(loanID), asOf.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hget summary: %w", err)
	}

	var s models.LoanSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, fmt.Errorf("decode cached summary: %w", err)
	}
	return &s, true, nil
}

// Generation returns the current invalidation counter for loanID. A loan that
// was never invalidated is at generation 0.
func (c *SummaryCache) Generation(ctx context.Context, loanID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(loanID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get generation: %w", err)
	}
	return gen, nil
}

// Put stores s if loanID is still at generation gen. It reports whether the
// summary was written.
func (c *SummaryCache) Put(ctx context.Context, s *models.LoanSummary, gen int64) (bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("encode summary: %w", err)
	}

	keys := []string{generationKey(s.LoanID), summaryKey(s.LoanID)}
	stored, err := c.client.Eval(ctx, putScript, keys, gen, s.AsOf.String(), string(data), c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("put summary: %w", err)
	}
	return stored == 1, nil
}

// Invalidate drops every cached as-of date for loanID and fences off any Put
// that read the previous generation.
func (c *SummaryCache) Invalidate(ctx context.Context, loanID uuid.UUID) error {
	keys := []string{generationKey(loanID), summaryKey(loanID)}
	if err := c.client.Eval(ctx, invalidateScript, keys).Err(); err != nil {
		return fmt.Errorf("invalidate summary: %w", err)
	}
	return nil
}
