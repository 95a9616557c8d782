package http

import (
	"encoding/json"
	"net/http"

	"github.com/fortunamind/persistgate/internal/service"
)

// healthHandler serves /health: 200 while every component answers, 503
// once any goes down. Load balancers key off the status code alone.
func healthHandler(gateway *service.GatewayService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := gateway.CheckHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

// statusHandler serves /status with the full runtime report. Always 200;
// degradation is in the body.
func statusHandler(gateway *service.GatewayService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(gateway.CheckStatus(r.Context()))
	})
}
