package quota

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/zap"
	cronlib "github.com/robfig/cron/v3"

	"github.com/routecodex/routecodex/common/logger"
	"github.com/routecodex/routecodex/internal/router"
)

// quotaLog attributes every line from this package to the quota daemon.
var quotaLog = logger.Component("quota")

// Config parameterizes the daemon's timers and thresholds. Zero values are
// replaced with the specification's defaults by NewDaemon.
type Config struct {
	// AutoCooldownMaxMs caps every automatic (non-operator) cooldown/quota
	// timer; operator overrides via DisableProvider are never capped.
	AutoCooldownMaxMs int64
	// MaintenanceInterval is how often the periodic tick advances state
	// and flushes a snapshot, independent of the debounce timer.
	MaintenanceInterval time.Duration
	// PersistDebounce coalesces bursts of dirty-marking events into one
	// snapshot write.
	PersistDebounce time.Duration
	// ErrorThreshold is the consecutive generic-error count that trips an
	// escalating automatic cooldown.
	ErrorThreshold int
	// EscalatingBase is the first escalating cooldown duration once
	// ErrorThreshold is crossed; it doubles per additional error, capped
	// by AutoCooldownMaxMs.
	EscalatingBase time.Duration
	// SnapshotPath is where the daemon persists its state as JSON. Empty
	// disables persistence (tests run with it unset).
	SnapshotPath string
}

func (c Config) withDefaults() Config {
	if c.AutoCooldownMaxMs <= 0 {
		c.AutoCooldownMaxMs = int64(3 * time.Hour / time.Millisecond)
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 60 * time.Second
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = 5 * time.Second
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 3
	}
	if c.EscalatingBase <= 0 {
		c.EscalatingBase = 30 * time.Second
	}
	return c
}

// Daemon is the sole writer of QuotaState; it satisfies router.QuotaView
// for reads. States are protected by mu; readers take a read lock and copy
// out a value, never a pointer into the map.
type Daemon struct {
	cfg Config

	mu     sync.RWMutex
	states map[router.ProviderKey]*QuotaState
	dirty  bool

	persistMu    sync.Mutex
	persistTimer *time.Timer

	notifyMu  sync.Mutex
	notifiers []func(QuotaState)

	cron    *cronlib.Cron
	cronID  cronlib.EntryID
	stopped chan struct{}
}

// NewDaemon builds a Daemon, rehydrating state from cfg.SnapshotPath if it
// exists. Load failures are logged and treated as an empty starting state,
// never fatal to startup.
func NewDaemon(cfg Config) *Daemon {
	cfg = cfg.withDefaults()
	d := &Daemon{
		cfg:     cfg,
		states:  make(map[router.ProviderKey]*QuotaState),
		stopped: make(chan struct{}),
	}
	if cfg.SnapshotPath != "" {
		loaded, err := loadSnapshot(cfg.SnapshotPath, cfg.AutoCooldownMaxMs, time.Now().UnixMilli())
		if err != nil {
			quotaLog.Warn("quota snapshot load failed, starting empty", zap.String("path", cfg.SnapshotPath), zap.Error(err))
		} else {
			d.states = loaded
		}
	}
	return d
}

// RegisterTarget seeds a fresh, ready QuotaState for a target the daemon
// has not seen before; existing state (e.g. rehydrated from snapshot) is
// left untouched.
func (d *Daemon) RegisterTarget(key router.ProviderKey, priorityTier int, authType AuthType) {
	key = router.Canonicalize(string(key))
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[key]; ok {
		return
	}
	d.states[key] = newState(key, priorityTier, authType)
}

// View implements router.QuotaView.
func (d *Daemon) View(key router.ProviderKey) (router.QuotaViewEntry, bool) {
	key = router.Canonicalize(string(key))
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.states[key]
	if !ok {
		return router.QuotaViewEntry{}, false
	}
	return s.toView(), true
}

// Snapshot returns a copy of every tracked QuotaState, for the admin
// quota-view surface.
func (d *Daemon) Snapshot() map[router.ProviderKey]QuotaState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[router.ProviderKey]QuotaState, len(d.states))
	for k, v := range d.states {
		out[k] = *v
	}
	return out
}

func (d *Daemon) getOrCreate(key router.ProviderKey) *QuotaState {
	s, ok := d.states[key]
	if !ok {
		s = newState(key, 0, AuthTypeUnknown)
		d.states[key] = s
	}
	return s
}

func capMs(ttlMs, maxMs int64) int64 {
	if ttlMs <= 0 || ttlMs > maxMs {
		return maxMs
	}
	return ttlMs
}

// HandleError applies one provider-error-center event to QuotaState,
// following the dispatch table: an active operator blacklist is never
// overwritten by any automatic signal.
func (d *Daemon) HandleError(evt ErrorEvent, nowMs int64) {
	key := router.Canonicalize(string(evt.ProviderKey))

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.getOrCreate(key)

	if s.Reason == ReasonBlacklist && nowMs < s.BlacklistUntilMs {
		return
	}

	s.LastErrorSeries = string(evt.Signal)
	s.LastErrorCode = evt.Code
	s.LastErrorAtMs = nowMs

	switch evt.Signal {
	case SignalQuotaDepleted, SignalHTTPQuota:
		s.Reason = ReasonQuotaDepleted
		s.CooldownUntilMs = nowMs + capMs(evt.CooldownMs, d.cfg.AutoCooldownMaxMs)
		s.InPool = false

	case SignalQuotaRecovery:
		untrackedGate := s.Reason == ReasonCooldown && s.CooldownUntilMs == 0 && s.AuthType == AuthTypeOAuth
		if s.Reason == ReasonQuotaDepleted || untrackedGate {
			s.Reason = ReasonOK
			s.InPool = true
			s.CooldownUntilMs = 0
		}
		// Never override an active non-quota cooldown.

	case SignalHTTPCooldown:
		s.Reason = ReasonCooldown
		s.CooldownUntilMs = nowMs + capMs(evt.CooldownMs, d.cfg.AutoCooldownMaxMs)
		s.InPool = false

	case SignalAuthFailure:
		// Fatal-for-quota, migrated from the legacy blacklist state into
		// an automatic (capped) cooldown.
		s.Reason = ReasonCooldown
		s.CooldownUntilMs = nowMs + capMs(evt.CooldownMs, d.cfg.AutoCooldownMaxMs)
		s.InPool = false

	case SignalVerificationRequired:
		s.Reason = ReasonVerificationRequired
		s.VerificationURL = evt.VerificationURL
		s.CooldownUntilMs = nowMs + d.cfg.AutoCooldownMaxMs
		s.InPool = false

	default: // SignalGenericError and anything unrecognized
		s.ConsecutiveErrorCount++
		if s.WindowStartMs == 0 {
			s.WindowStartMs = nowMs
		}
		if s.ConsecutiveErrorCount >= d.cfg.ErrorThreshold {
			escalations := s.ConsecutiveErrorCount - d.cfg.ErrorThreshold
			backoff := d.cfg.EscalatingBase
			for i := 0; i < escalations; i++ {
				backoff *= 2
				if int64(backoff/time.Millisecond) >= d.cfg.AutoCooldownMaxMs {
					break
				}
			}
			s.Reason = ReasonCooldown
			s.CooldownUntilMs = nowMs + capMs(int64(backoff/time.Millisecond), d.cfg.AutoCooldownMaxMs)
			s.InPool = false
		}
	}

	d.notifyChange(s)
	d.markDirty()
}

// HandleSuccess resets a target's consecutive-error series and records
// token usage, per the dispatch table's Success row.
func (d *Daemon) HandleSuccess(evt SuccessEvent, nowMs int64) {
	key := router.Canonicalize(string(evt.ProviderKey))

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.getOrCreate(key)
	s.ConsecutiveErrorCount = 0
	s.WindowStartMs = 0
	s.TotalTokensUsed += evt.TokensUsed

	d.notifyChange(s)
	d.markDirty()
}

// DisableProvider is an explicit operator override; unlike automatic
// signals, its duration is never capped by AutoCooldownMaxMs.
func (d *Daemon) DisableProvider(key router.ProviderKey, mode DisableMode, durationMs int64, nowMs int64) {
	key = router.Canonicalize(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.getOrCreate(key)
	s.InPool = false
	switch mode {
	case DisableModeBlacklist:
		s.Reason = ReasonBlacklist
		s.BlacklistUntilMs = nowMs + durationMs
	default:
		s.Reason = ReasonCooldown
		s.CooldownUntilMs = nowMs + durationMs
	}
	d.notifyChange(s)
	d.markDirty()
}

// RecoverProvider is an explicit operator override that unconditionally
// returns a target to the pool, including clearing an active blacklist.
func (d *Daemon) RecoverProvider(key router.ProviderKey) {
	key = router.Canonicalize(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.getOrCreate(key)
	s.Reason = ReasonOK
	s.InPool = true
	s.CooldownUntilMs = 0
	s.BlacklistUntilMs = 0
	s.ConsecutiveErrorCount = 0
	s.WindowStartMs = 0
	d.notifyChange(s)
	d.markDirty()
}

// ResetProvider is an operator override that discards a target's whole
// tracked history, leaving a fresh ready state with the same tier and
// auth type.
func (d *Daemon) ResetProvider(key router.ProviderKey) {
	key = router.Canonicalize(string(key))

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, ok := d.states[key]
	s := newState(key, 0, AuthTypeUnknown)
	if ok {
		s.PriorityTier = prev.PriorityTier
		s.AuthType = prev.AuthType
	}
	d.states[key] = s
	d.notifyChange(s)
	d.markDirty()
}

// AddNotifier registers fn to be called with a copy of a QuotaState after
// every mutation (metrics gauges, the Redis mirror). fn runs on its own
// goroutine and must not call back into the daemon's write methods.
func (d *Daemon) AddNotifier(fn func(QuotaState)) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	d.notifiers = append(d.notifiers, fn)
}

// notifyChange must be called with mu held; it snapshots s and fans the
// copy out to every registered notifier off the daemon's lock.
func (d *Daemon) notifyChange(s *QuotaState) {
	d.notifyMu.Lock()
	notifiers := d.notifiers
	d.notifyMu.Unlock()
	if len(notifiers) == 0 {
		return
	}
	cp := *s
	go func() {
		for _, fn := range notifiers {
			fn(cp)
		}
	}()
}

// markDirty must be called with mu held; it schedules a debounced persist.
func (d *Daemon) markDirty() {
	d.dirty = true
	if d.cfg.SnapshotPath == "" {
		return
	}
	d.persistMu.Lock()
	defer d.persistMu.Unlock()
	if d.persistTimer != nil {
		d.persistTimer.Stop()
	}
	d.persistTimer = time.AfterFunc(d.cfg.PersistDebounce, d.persistNow)
}

func (d *Daemon) persistNow() {
	if d.cfg.SnapshotPath == "" {
		return
	}
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return
	}
	snapshot := make(map[router.ProviderKey]*QuotaState, len(d.states))
	for k, v := range d.states {
		cp := *v
		snapshot[k] = &cp
	}
	d.dirty = false
	d.mu.Unlock()

	if err := saveSnapshot(d.cfg.SnapshotPath, snapshot); err != nil {
		quotaLog.Error("quota snapshot save failed", zap.String("path", d.cfg.SnapshotPath), zap.Error(err))
	}
}

// Start launches the periodic maintenance tick (snapshot flush; timer
// expiry needs no active work since readiness is recomputed lazily at
// View time). Stop must be called to release the cron runner.
func (d *Daemon) Start(ctx context.Context) {
	d.cron = cronlib.New()
	spec := "@every " + d.cfg.MaintenanceInterval.String()
	id, err := d.cron.AddFunc(spec, d.persistNow)
	if err != nil {
		quotaLog.Error("quota daemon failed to schedule maintenance tick", zap.Error(err))
		return
	}
	d.cronID = id
	d.cron.Start()

	go func() {
		<-ctx.Done()
		d.Stop()
	}()
}

// Stop halts the maintenance tick and flushes any pending snapshot.
func (d *Daemon) Stop() {
	select {
	case <-d.stopped:
		return
	default:
		close(d.stopped)
	}
	if d.cron != nil {
		d.cron.Stop()
	}
	d.persistNow()
}
