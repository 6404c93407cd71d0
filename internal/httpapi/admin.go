package httpapi

import (
	"net/http"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/middleware"
)

// providerView is one row of the admin provider-pool listing: the static
// target joined with its live quota state.
type providerView struct {
	ProviderKey     string `json:"providerKey"`
	ProviderType    string `json:"providerType"`
	OutboundProfile string `json:"outboundProfile"`
	Endpoint        string `json:"endpoint"`
	DefaultModel    string `json:"defaultModel"`
	Ready           bool   `json:"ready"`
	Reason          string `json:"reason,omitempty"`
	CooldownUntilMs int64  `json:"cooldownUntil,omitempty"`
}

func (s *Server) adminProviders(c *gin.Context) {
	nowMs := time.Now().UnixMilli()
	table := s.deps.Router.Table()
	states := s.deps.Daemon.Snapshot()

	views := make([]providerView, 0, len(table.Targets))
	for key, target := range table.Targets {
		view := providerView{
			ProviderKey:     string(key),
			ProviderType:    target.ProviderType,
			OutboundProfile: string(target.OutboundProfile),
			Endpoint:        target.Endpoint,
			DefaultModel:    target.DefaultModel,
		}
		if state, ok := states[key]; ok {
			view.Ready = state.Ready(nowMs)
			view.Reason = string(state.Reason)
			view.CooldownUntilMs = state.CooldownUntilMs
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}

func (s *Server) adminQuota(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"quota": s.deps.Daemon.Snapshot()})
}

type providerOverrideRequest struct {
	ProviderKey string `json:"providerKey" binding:"required"`
	Mode        string `json:"mode"`
	DurationMs  int64  `json:"durationMs"`
}

func (s *Server) adminDisable(c *gin.Context) {
	var req providerOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, errors.Wrap(err, "invalid disable request"))
		return
	}
	mode := quota.DisableModeCooldown
	if req.Mode == string(quota.DisableModeBlacklist) {
		mode = quota.DisableModeBlacklist
	}
	if req.DurationMs <= 0 {
		middleware.AbortWithError(c, http.StatusBadRequest, errors.New("durationMs must be positive"))
		return
	}
	s.deps.Daemon.DisableProvider(router.ProviderKey(req.ProviderKey), mode, req.DurationMs, time.Now().UnixMilli())
	c.JSON(http.StatusOK, gin.H{"status": "disabled", "mode": string(mode)})
}

func (s *Server) adminRecover(c *gin.Context) {
	var req providerOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, errors.Wrap(err, "invalid recover request"))
		return
	}
	s.deps.Daemon.RecoverProvider(router.ProviderKey(req.ProviderKey))
	c.JSON(http.StatusOK, gin.H{"status": "recovered"})
}

func (s *Server) adminReset(c *gin.Context) {
	var req providerOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, errors.Wrap(err, "invalid reset request"))
		return
	}
	s.deps.Daemon.ResetProvider(router.ProviderKey(req.ProviderKey))
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
