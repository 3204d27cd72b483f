package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/vodgate/vodgate/internal/api/response"
	"github.com/vodgate/vodgate/internal/proxy"
)

// ProxyHandler fronts the streaming relay.
type ProxyHandler struct {
	relay  *proxy.Relay
	logger zerolog.Logger
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(relay *proxy.Relay, logger zerolog.Logger) *ProxyHandler {
	return &ProxyHandler{relay: relay, logger: logger}
}

// Stream handles GET /proxy/?url=<target>.
func (h *ProxyHandler) Stream(w http.ResponseWriter, r *http.Request) {
	target, err := proxy.TargetFromRequest(r)
	if err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	if err := h.relay.Serve(w, r, target); err != nil {
		if errors.Is(err, proxy.ErrInvalidTarget) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		// The relay only returns an error before the response has been
		// started, so a problem body is still safe to write.
		h.logger.Warn().Err(err).Msg("relay fetch failed")
		response.BadGateway(w, r, "upstream fetch failed", nil)
	}
}

// Preflight handles OPTIONS /proxy/ for player CORS checks.
func (h *ProxyHandler) Preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range")
	w.WriteHeader(http.StatusNoContent)
}
