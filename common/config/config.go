package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/routecodex/routecodex/common/env"
)

// stateFile resolves a path under the gateway's state root,
// $HOME/.routecodex, falling back to a relative ./data directory when the
// home directory cannot be determined (containers without a passwd entry).
func stateFile(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(append([]string{"data"}, parts...)...)
	}
	return filepath.Join(append([]string{home, ".routecodex"}, parts...)...)
}

var (
	// ServerPort overrides the --port flag when running inside a container or PaaS environment.
	ServerPort = strings.TrimSpace(env.String("PORT", ""))
	// GinMode allows forcing Gin into release mode (or other modes) without recompiling.
	GinMode = strings.TrimSpace(env.String("GIN_MODE", "release"))

	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)

	// ConfigPath points at the YAML pool/provider configuration file.
	ConfigPath = strings.TrimSpace(env.String("ROUTECODEX_CONFIG", "config/routecodex.yaml"))

	// RelayTimeoutSec bounds each unary upstream attempt (seconds) before aborting it; 0 selects
	// the executor's 120-second default.
	RelayTimeoutSec = env.Int("RELAY_TIMEOUT", 0)
	// IdleTimeoutSec controls how long a streaming response may go without a new frame before it is aborted.
	IdleTimeoutSec = env.Int("IDLE_TIMEOUT", 30)
	// ShutdownTimeoutSec specifies the graceful shutdown timeout (seconds) for in-flight requests.
	ShutdownTimeoutSec = env.Int("SHUTDOWN_TIMEOUT", 30)

	// AutoCooldownMaxSec caps the duration of any automatically computed quota cooldown.
	// Operator-issued blacklists are exempt from this cap.
	AutoCooldownMaxSec = env.Int("AUTO_COOLDOWN_MAX_SEC", 3*60*60)
	// CooldownFor429Sec is the cooldown window applied after an upstream rate-limit response
	// that carries no reset hint.
	CooldownFor429Sec = env.Int("COOLDOWN_SECONDS_FOR_429", 60)
	// CooldownFor5XXSec is parsed from COOLDOWN_SECONDS_FOR_5XX but read by no component;
	// upstream server errors feed the quota daemon's consecutive-error series instead.
	CooldownFor5XXSec = env.Int("COOLDOWN_SECONDS_FOR_5XX", 30)
	// CooldownForAuthSec is the cooldown window applied after an upstream auth/permission error
	// that carries no reset hint.
	CooldownForAuthSec = env.Int("COOLDOWN_SECONDS_FOR_AUTH", 300)

	// QuotaSnapshotPath is the file written by the quota daemon's debounced persistence loop.
	QuotaSnapshotPath = strings.TrimSpace(env.String("QUOTA_SNAPSHOT_PATH", stateFile("quota", "quota-manager.json")))
	// AntigravitySnapshotPath is where the antigravity OAuth quota refresher persists its latest snapshot.
	AntigravitySnapshotPath = strings.TrimSpace(env.String("ROUTECODEX_ANTIGRAVITY_SNAPSHOT", stateFile("state", "quota", "antigravity.json")))
	// QuotaDaemonIntervalMS is how often the quota daemon's maintenance tick advances timers and flushes a snapshot.
	QuotaDaemonIntervalMS = env.Int("ROUTECODEX_QUOTA_DAEMON_INTERVAL_MS", 60_000)
	// QuotaPersistDebounceMS sets how long to wait after the last quota mutation before writing a snapshot.
	QuotaPersistDebounceMS = env.Int("ROUTECODEX_QUOTA_PERSIST_DEBOUNCE_MS", 5_000)
	// QuotaErrorPriorityWindowMS bounds how long a target's recent error series counts as a
	// selection penalty in the router; outside the window the penalty is zero.
	QuotaErrorPriorityWindowMS = env.Int("ROUTECODEX_QUOTA_ERROR_PRIORITY_WINDOW_MS", 10*60*1000)

	// StopTimeoutMS is how long `--restart` waits for the previous process to exit
	// after the HTTP /shutdown call before escalating to SIGTERM.
	StopTimeoutMS = env.Int("ROUTECODEX_STOP_TIMEOUT_MS", 8_000)
	// KillTimeoutMS is how long `--restart` waits after SIGTERM before sending SIGKILL.
	KillTimeoutMS = env.Int("ROUTECODEX_KILL_TIMEOUT_MS", 5_000)
	// BuildRestartOnly switches --restart to an in-place SIGUSR2 signal instead of
	// spawning a replacement process.
	BuildRestartOnly = env.Bool("ROUTECODEX_BUILD_RESTART_ONLY", false)

	// EnableSticky toggles session-sticky routing (x-session-id to ProviderKey binding).
	EnableSticky = env.Bool("ROUTECODEX_ENABLE_STICKY", false)

	// EnableMetric toggles the rolling success-rate monitor that cools a target down
	// independently of the per-event status-driven quota rules.
	EnableMetric = env.Bool("ROUTECODEX_ENABLE_METRIC", false)
	// MetricQueueSize is the rolling window length (most recent calls) the success-rate
	// monitor evaluates per ProviderKey.
	MetricQueueSize = env.Int("ROUTECODEX_METRIC_QUEUE_SIZE", 10)
	// MetricSuccessRateThreshold cools a target down when its rolling success rate over
	// MetricQueueSize calls drops below this value.
	MetricSuccessRateThreshold = env.Float64("ROUTECODEX_METRIC_SUCCESS_RATE_THRESHOLD", 0.8)

	// StickySessionTTLSec is parsed from STICKY_SESSION_TTL_SEC but read by no component:
	// sticky bindings carry no TTL and leave the router's LRU only by eviction, after a
	// reported error, or when their target stops being ready.
	StickySessionTTLSec = env.Int("STICKY_SESSION_TTL_SEC", 30*60)
	// StickySessionCacheSize bounds the number of sticky session entries kept in the router's LRU.
	StickySessionCacheSize = env.Int("STICKY_SESSION_CACHE_SIZE", 4096)

	// RedisConnString, when non-empty, connects Redis and mirrors quota pool-state changes to it
	// (internal/quota/redismirror); quota state and sticky bindings always live in-process.
	// An empty value disables Redis.
	RedisConnString = strings.TrimSpace(env.String("REDIS_CONN_STRING", ""))
	// RedisPassword supplies the Redis authentication password when required.
	RedisPassword = env.String("REDIS_PASSWORD", "")

	// GatewayAPIKeysRaw is the comma-separated list of keys clients may present via
	// x-api-key (or a Bearer Authorization header). Empty leaves the gateway open,
	// the expected state for a localhost deployment.
	GatewayAPIKeysRaw = strings.TrimSpace(env.String("ROUTECODEX_API_KEYS", ""))

	// GlobalRateLimitNum is parsed from GLOBAL_RATE_LIMIT but read by no component; no
	// per-client request limit is applied.
	GlobalRateLimitNum = env.Int("GLOBAL_RATE_LIMIT", 480)
	// GlobalRateLimitDuration is a rate-limit window length (seconds) that no component reads.
	GlobalRateLimitDuration int64 = 3 * 60

	// EnablePrometheusMetrics exposes the /metrics endpoint for Prometheus scrapers when true.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)

	// The three antigravity OAuth knobs below are parsed but read by no component; no
	// token refresh runs in this repository.
	// AntigravityOAuthClientId is an OAuth client id for refreshing antigravity provider tokens.
	AntigravityOAuthClientId = strings.TrimSpace(env.String("ANTIGRAVITY_OAUTH_CLIENT_ID", ""))
	// AntigravityOAuthClientSecret is an OAuth client secret for refreshing antigravity provider tokens.
	AntigravityOAuthClientSecret = strings.TrimSpace(env.String("ANTIGRAVITY_OAUTH_CLIENT_SECRET", ""))
	// AntigravityTokenRefreshSkewSec is a refresh lead time (seconds) before token expiry.
	AntigravityTokenRefreshSkewSec = env.Int("ANTIGRAVITY_TOKEN_REFRESH_SKEW_SEC", 120)

	// ChannelTestFrequencyRaw retains the raw HEALTH_CHECK_FREQUENCY input for validation.
	ChannelTestFrequencyRaw = strings.TrimSpace(env.String("HEALTH_CHECK_FREQUENCY", ""))
	// ChannelTestFrequency is HEALTH_CHECK_FREQUENCY in seconds (negative becomes 0, a
	// non-integer panics); no component reads it, so no provider health probe runs.
	ChannelTestFrequency = func() int {
		if ChannelTestFrequencyRaw == "" {
			return 0
		}
		v, err := strconv.Atoi(ChannelTestFrequencyRaw)
		if err != nil {
			panic(fmt.Sprintf("invalid HEALTH_CHECK_FREQUENCY: %q", ChannelTestFrequencyRaw))
		}
		if v < 0 {
			return 0
		}
		return v
	}()

	// LogPushAPI defines the webhook endpoint for escalated log alerts.
	LogPushAPI = env.String("LOG_PUSH_API", "")
	// LogPushType labels outbound log alerts so downstream processors can route them.
	LogPushType = env.String("LOG_PUSH_TYPE", "")
	// LogPushToken authenticates outbound log alert requests.
	LogPushToken = env.String("LOG_PUSH_TOKEN", "")

	// OnlyOneLogFile merges all rotated logs into a single file when true.
	OnlyOneLogFile = env.Bool("ONLY_ONE_LOG_FILE", false)

	// ProviderAuthDir is the base directory OAuth bearer/project-bearer auth
	// refs resolve token files against when the ref is a relative path.
	ProviderAuthDir = strings.TrimSpace(env.String("ROUTECODEX_AUTH_DIR", "auth"))
	// ProviderRateLimitRPS bounds outbound requests per target per second; 0 disables shaping.
	ProviderRateLimitRPS = env.Float64("PROVIDER_RATE_LIMIT_RPS", 0)
	// ProviderRateLimitBurst is the token-bucket burst size paired with ProviderRateLimitRPS.
	ProviderRateLimitBurst = env.Int("PROVIDER_RATE_LIMIT_BURST", 1)
	// AntigravityVerificationChannel is parsed from ANTIGRAVITY_VERIFICATION_CHANNEL but read by
	// no component; a verification-required URL is recorded on the target's QuotaState instead.
	AntigravityVerificationChannel = strings.TrimSpace(env.String("ANTIGRAVITY_VERIFICATION_CHANNEL", ""))

	// ApproximateTokenEnabled skips the tiktoken encoder and estimates token counts
	// from byte length, for offline deployments that cannot fetch encoding files.
	ApproximateTokenEnabled = env.Bool("APPROXIMATE_TOKEN_ENABLED", false)

	// ReasoningPolicy overrides the tool-filter's per-protocol default for whether
	// <think>...</think> content survives to the client: "auto" keeps the
	// protocol-based default (strip for chat-completions/messages, preserve for responses).
	ReasoningPolicy = strings.ToLower(strings.TrimSpace(env.String("RCC_REASONING_POLICY", "auto")))
	// EnableStageSnapshots is parsed from ROUTECODEX_STAGE_LOG; no component reads it, and no
	// per-stage debug snapshot is written.
	EnableStageSnapshots = env.Bool("ROUTECODEX_STAGE_LOG", false)
)

var (
	// routingMetricsEnabled toggles per-decision routing metric emission and is mutated at runtime.
	routingMetricsEnabled atomic.Bool
)

func init() {
	routingMetricsEnabled.Store(true)
}

// IsRoutingMetricsEnabled reports whether routing-decision metrics are being emitted.
func IsRoutingMetricsEnabled() bool {
	return routingMetricsEnabled.Load()
}

// SetRoutingMetricsEnabled toggles routing-decision metric emission in a concurrency-safe way.
func SetRoutingMetricsEnabled(enabled bool) {
	routingMetricsEnabled.Store(enabled)
}

// GatewayAPIKeys returns the parsed client-key allowlist, empty when the
// gateway runs open.
func GatewayAPIKeys() []string {
	if GatewayAPIKeysRaw == "" {
		return nil
	}
	parts := strings.Split(GatewayAPIKeysRaw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// AutoCooldownMax is AutoCooldownMaxSec as a time.Duration, the hard cap applied to every
// automatically computed quota cooldown regardless of the triggering error class.
func AutoCooldownMax() time.Duration {
	return time.Duration(AutoCooldownMaxSec) * time.Second
}
