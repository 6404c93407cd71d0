// Package monitor keeps a rolling success-rate window per provider key and
// cools a target down when the rate drops below a threshold. It is an
// additive safety net on top of the quota daemon's per-event status rules:
// a provider can limp along returning enough varied errors that no single
// rule trips, and this catches it.
package monitor

import (
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/routecodex/routecodex/common/logger"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
)

var monitorLog = logger.Component("monitor")

// Disabler is the monitor's dependency on the quota daemon, narrowed to
// the one operator-style override it applies.
type Disabler interface {
	DisableProvider(key router.ProviderKey, mode quota.DisableMode, durationMs int64, nowMs int64)
}

// Config parameterizes the rolling window.
type Config struct {
	// QueueSize is how many recent calls the window holds per key; the
	// success rate is only evaluated once the window is full.
	QueueSize int
	// SuccessRateThreshold trips the cooldown when the windowed rate
	// falls strictly below it.
	SuccessRateThreshold float64
	// CooldownMs is the cooldown applied when the threshold trips.
	CooldownMs int64
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 10
	}
	if c.SuccessRateThreshold <= 0 {
		c.SuccessRateThreshold = 0.8
	}
	if c.CooldownMs <= 0 {
		c.CooldownMs = int64(5 * time.Minute / time.Millisecond)
	}
	return c
}

type window struct {
	outcomes []bool
	cursor   int
	filled   bool
}

// Monitor accumulates per-key call outcomes and escalates to the quota
// daemon when a full window's success rate is below threshold.
type Monitor struct {
	cfg      Config
	disabler Disabler

	mu      sync.Mutex
	windows map[router.ProviderKey]*window
}

// New builds a Monitor escalating to disabler.
func New(cfg Config, disabler Disabler) *Monitor {
	return &Monitor{
		cfg:      cfg.withDefaults(),
		disabler: disabler,
		windows:  make(map[router.ProviderKey]*window),
	}
}

// Emit records one call outcome for a provider key. When the rolling
// window is full and its success rate is below the threshold, the target
// is cooled down and the window reset so a recovering target is not
// immediately re-disabled by stale samples.
func (m *Monitor) Emit(key router.ProviderKey, success bool, nowMs int64) {
	key = router.Canonicalize(string(key))

	m.mu.Lock()
	w, ok := m.windows[key]
	if !ok {
		w = &window{outcomes: make([]bool, m.cfg.QueueSize)}
		m.windows[key] = w
	}
	w.outcomes[w.cursor] = success
	w.cursor = (w.cursor + 1) % len(w.outcomes)
	if w.cursor == 0 {
		w.filled = true
	}

	if !w.filled {
		m.mu.Unlock()
		return
	}

	successes := 0
	for _, outcome := range w.outcomes {
		if outcome {
			successes++
		}
	}
	rate := float64(successes) / float64(len(w.outcomes))
	if rate >= m.cfg.SuccessRateThreshold {
		m.mu.Unlock()
		return
	}

	delete(m.windows, key)
	m.mu.Unlock()

	monitorLog.Info("provider cooled down by success-rate monitor",
		zap.String("provider_key", string(key)),
		zap.Float64("success_rate", rate),
		zap.Float64("threshold", m.cfg.SuccessRateThreshold))
	m.disabler.DisableProvider(key, quota.DisableModeCooldown, m.cfg.CooldownMs, nowMs)
}
