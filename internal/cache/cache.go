// Package cache provides the per-patient compliance view cache. The cache is
// a read-through layer over the stats query in repo; any consent transition,
// delivery-status update, or confirmation for a patient invalidates that
// patient's entry so staff surfaces never read a stale compliance picture.
//
// The client is explicitly constructed and injected (built once in main,
// closed on shutdown). A nil Compliance is valid and degrades to querying
// the database directly.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Compliance caches JSON-encoded compliance stats keyed by patient id.
type Compliance struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCompliance constructs the cache. A nil client yields a pass-through
// cache whose Get always misses.
func NewCompliance(client *redis.Client, ttl time.Duration) *Compliance {
	return &Compliance{client: client, prefix: "prima:compliance:", ttl: ttl}
}

// Get unmarshals the cached entry for patientID into dst. The boolean
// reports a hit; cache errors are logged and reported as misses.
func (c *Compliance) Get(ctx context.Context, patientID string, dst any) bool {
	if c == nil || c.client == nil {
		return false
	}
	raw, err := c.client.Get(ctx, c.prefix+patientID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("patient_id", patientID).Msg("compliance cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return true
}

// Set stores the entry for patientID. Best effort; failures are logged.
func (c *Compliance) Set(ctx context.Context, patientID string, v any) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefix+patientID, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("patient_id", patientID).Msg("compliance cache write failed")
	}
}

// Invalidate drops the cached entry for patientID. Called on every state
// transition that changes the patient's compliance picture.
func (c *Compliance) Invalidate(ctx context.Context, patientID string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.prefix+patientID).Err(); err != nil {
		log.Warn().Err(err).Str("patient_id", patientID).Msg("compliance cache invalidation failed")
	}
}
