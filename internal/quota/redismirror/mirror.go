// Package redismirror publishes quota pool-state changes to Redis for
// multi-instance observers. It is purely additive observability: the
// daemon's in-process JSON snapshot remains the single source of truth,
// and the gateway runs identically with the mirror disabled.
package redismirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/zap"
	"github.com/redis/go-redis/v9"

	"github.com/routecodex/routecodex/common/logger"
	"github.com/routecodex/routecodex/internal/quota"
)

var mirrorLog = logger.Component("quota-mirror")

const (
	// Channel is the pub/sub channel pool-state change events are
	// published on.
	Channel = "routecodex:quota:events"
	// HashKey is the Redis hash mirroring the latest state per provider key.
	HashKey = "routecodex:quota:state"

	publishTimeout = 2 * time.Second
)

// Mirror fans quota-state changes out to Redis. Attach Publish to the
// daemon via Daemon.AddNotifier.
type Mirror struct {
	rdb redis.UniversalClient
}

// New builds a Mirror over an already-connected client.
func New(rdb redis.UniversalClient) *Mirror {
	return &Mirror{rdb: rdb}
}

// event is the wire shape published on Channel.
type event struct {
	ProviderKey     string `json:"providerKey"`
	InPool          bool   `json:"inPool"`
	Reason          string `json:"reason"`
	CooldownUntil   int64  `json:"cooldownUntil,omitempty"`
	BlacklistUntil  int64  `json:"blacklistUntil,omitempty"`
	ConsecutiveErrs int    `json:"consecutiveErrorCount"`
	AtMs            int64  `json:"atMs"`
}

// Publish mirrors one state change: the hash field is overwritten with the
// latest state and an event is published for live subscribers. Failures
// are logged, never propagated; the mirror must not be able to take the
// gateway down.
func (m *Mirror) Publish(s quota.QuotaState) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	body, err := json.Marshal(event{
		ProviderKey:     string(s.ProviderKey),
		InPool:          s.InPool,
		Reason:          string(s.Reason),
		CooldownUntil:   s.CooldownUntilMs,
		BlacklistUntil:  s.BlacklistUntilMs,
		ConsecutiveErrs: s.ConsecutiveErrorCount,
		AtMs:            time.Now().UnixMilli(),
	})
	if err != nil {
		mirrorLog.Error("quota mirror marshal failed", zap.Error(err))
		return
	}

	if err := m.rdb.HSet(ctx, HashKey, string(s.ProviderKey), body).Err(); err != nil {
		mirrorLog.Warn("quota mirror hash write failed", zap.Error(err))
	}
	if err := m.rdb.Publish(ctx, Channel, body).Err(); err != nil {
		mirrorLog.Warn("quota mirror publish failed", zap.Error(err))
	}
}
