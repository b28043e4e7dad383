package httpserver

import (
	"net/http"
	"time"

	"github.com/minipay/onboarding/internal/circuitbreaker"
	"github.com/minipay/onboarding/pkg/responders"
)

// health reports liveness plus the state of each dependency breaker. The
// service is degraded while the partner breaker is open because customer
// accounts cannot be created.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	breakers := map[string]string{
		string(circuitbreaker.ServicePartnerAPI):    h.breakers.State(circuitbreaker.ServicePartnerAPI),
		string(circuitbreaker.ServiceNotifications): h.breakers.State(circuitbreaker.ServiceNotifications),
		string(circuitbreaker.ServiceWalletRPC):     h.breakers.State(circuitbreaker.ServiceWalletRPC),
	}

	status := "ok"
	statusCode := http.StatusOK
	if breakers[string(circuitbreaker.ServicePartnerAPI)] == "open" {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":    status,
		"uptime":    now.Sub(serverStartTime).String(),
		"timestamp": now.UTC(),
		"breakers":  breakers,
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}
	if h.cfg.Partner.Provider != "" {
		response["partner"] = h.cfg.Partner.Provider
	}

	responders.JSON(w, statusCode, response)
}
