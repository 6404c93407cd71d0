package quota

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Laisky/zap"
	cronlib "github.com/robfig/cron/v3"

	"github.com/routecodex/routecodex/internal/router"
)

// RegisterOAuthGate seeds an untracked antigravity OAuth alias in its gate
// state: out of pool with reason cooldown and no timer, so it only becomes
// ready once a QUOTA_RECOVERY event shows quota above zero.
func (d *Daemon) RegisterOAuthGate(key router.ProviderKey, priorityTier int) {
	key = router.Canonicalize(string(key))
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.states[key]; ok {
		return
	}
	s := newState(key, priorityTier, AuthTypeOAuth)
	s.InPool = false
	s.Reason = ReasonCooldown
	d.states[key] = s
}

// MarkProtected pins a model out of the pool with the protected reason;
// generic recovery signals never flip it back (only an operator
// RecoverProvider does).
func (d *Daemon) MarkProtected(key router.ProviderKey) {
	key = router.Canonicalize(string(key))
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.getOrCreate(key)
	s.InPool = false
	s.Reason = ReasonProtected
	s.CooldownUntilMs = 0
	d.notifyChange(s)
	d.markDirty()
}

// AntigravitySnapshot is what one refresh of the antigravity OAuth quota
// yields: remaining quota per alias/model key, plus the protected models
// the token file declares.
type AntigravitySnapshot struct {
	Quotas    map[router.ProviderKey]int64 `json:"quotas"`
	Protected []router.ProviderKey         `json:"protected,omitempty"`
	FetchedAt int64                        `json:"fetchedAt"`
}

// QuotaSource fetches the current antigravity quota state; the OAuth
// refresh flow behind it is an external collaborator.
type QuotaSource interface {
	Fetch(ctx context.Context) (AntigravitySnapshot, error)
}

const refresherMaxFailures = 3

// Refresher polls a QuotaSource on a fixed schedule and feeds the results
// into the daemon as QUOTA_RECOVERY/QUOTA_DEPLETED signals. After three
// consecutive fetch failures it self-disables until RefreshNow.
type Refresher struct {
	Daemon *Daemon
	Source QuotaSource
	// SnapshotPath is where the latest snapshot is persisted; empty
	// disables persistence.
	SnapshotPath string
	// Interval between refreshes; zero means the five-minute default.
	Interval time.Duration

	mu       sync.Mutex
	failures int
	disabled bool
	cron     *cronlib.Cron
}

// Start schedules the periodic refresh until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r.cron = cronlib.New()
	if _, err := r.cron.AddFunc("@every "+interval.String(), func() { r.refresh(ctx) }); err != nil {
		quotaLog.Error("antigravity refresher failed to schedule", zap.Error(err))
		return
	}
	r.cron.Start()
	go func() {
		<-ctx.Done()
		r.cron.Stop()
	}()
}

// RefreshNow re-enables a self-disabled refresher and runs one refresh
// immediately, the manual recovery path after repeated fetch failures.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	r.mu.Lock()
	r.disabled = false
	r.failures = 0
	r.mu.Unlock()
	return r.refreshOnce(ctx)
}

// Disabled reports whether the refresh loop has self-disabled.
func (r *Refresher) Disabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled
}

func (r *Refresher) refresh(ctx context.Context) {
	r.mu.Lock()
	if r.disabled {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := r.refreshOnce(ctx); err != nil {
		r.mu.Lock()
		r.failures++
		if r.failures >= refresherMaxFailures {
			r.disabled = true
			quotaLog.Error("antigravity refresh self-disabled after consecutive failures",
				zap.Int("failures", r.failures), zap.Error(err))
		} else {
			quotaLog.Warn("antigravity refresh failed", zap.Int("failures", r.failures), zap.Error(err))
		}
		r.mu.Unlock()
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) error {
	snapshot, err := r.Source.Fetch(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()

	nowMs := time.Now().UnixMilli()
	for _, key := range snapshot.Protected {
		r.Daemon.MarkProtected(key)
	}
	for key, remaining := range snapshot.Quotas {
		if view, ok := r.Daemon.View(key); ok && view.Reason == string(ReasonProtected) {
			continue
		}
		signal := SignalQuotaRecovery
		if remaining <= 0 {
			signal = SignalQuotaDepleted
		}
		r.Daemon.HandleError(ErrorEvent{ProviderKey: key, Signal: signal, AtMs: nowMs}, nowMs)
	}

	if r.SnapshotPath != "" {
		if err := saveAntigravitySnapshot(r.SnapshotPath, snapshot); err != nil {
			// One line only; a flaky disk must not flood the log every
			// five minutes with a stack per alias.
			quotaLog.Warn("antigravity snapshot save failed", zap.Error(err))
		}
	}
	return nil
}

func saveAntigravitySnapshot(path string, snapshot AntigravitySnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadAntigravitySnapshot rehydrates the last persisted snapshot. A
// missing file is an empty snapshot; a corrupt one is surfaced so the
// caller can clear any session-alias pins as a safety measure.
func LoadAntigravitySnapshot(path string) (AntigravitySnapshot, error) {
	body, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return AntigravitySnapshot{}, nil
	}
	if err != nil {
		return AntigravitySnapshot{}, err
	}
	var snapshot AntigravitySnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return AntigravitySnapshot{}, err
	}
	return snapshot, nil
}
