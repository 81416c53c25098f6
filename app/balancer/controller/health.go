package controller

import (
	"net/http"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// HealthResponse reports the dependencies and the balance status.
type HealthResponse struct {
	Status  string          `json:"status"`
	Chains  []uint64        `json:"chains"`
	Balance balances.Status `json:"balance"`
	Nonce   uint64          `json:"nonce"`
	// Redis is "disabled", "ok" or "error".
	Redis    string `json:"redis"`
	EventLog int64  `json:"eventLog,omitempty"`
}

// HandleHealth answers 200 unless redis is enabled and unreachable. A failing
// balance fetch does not make the service unhealthy.
func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Chains:  c.App.Registry.Chains(),
		Balance: c.App.Manager.Status(),
		Nonce:   c.App.Manager.Nonce(),
		Redis:   "disabled",
	}

	if rc := c.App.RedisClient; rc != nil {
		resp.Redis = "ok"
		if err := rc.Health(r.Context()); err != nil {
			c.App.Logger.Warn("Redis health check failed", zap.Error(err))
			resp.Status, resp.Redis = "errored", "error"
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		if n, err := rc.Len(r.Context(), types.EventStream); err == nil {
			resp.EventLog = n
		}
	}

	_ = json.NewEncoder(w).Encode(resp)
}
