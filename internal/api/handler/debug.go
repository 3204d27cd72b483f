package handler

import (
	"net/http"
	"time"

	"github.com/vodgate/vodgate/internal/api/models"
	"github.com/vodgate/vodgate/internal/api/response"
	"github.com/vodgate/vodgate/internal/health"
	"github.com/vodgate/vodgate/internal/source"
	"github.com/vodgate/vodgate/internal/source/maccms"
)

// DebugHandler exposes source state for operators.
type DebugHandler struct {
	registry *source.Registry
	prober   *health.Prober
	clients  *maccms.ClientSet
}

// NewDebugHandler creates a new DebugHandler.
func NewDebugHandler(registry *source.Registry, prober *health.Prober, clients *maccms.ClientSet) *DebugHandler {
	return &DebugHandler{
		registry: registry,
		prober:   prober,
		clients:  clients,
	}
}

// Sources handles GET /debug/source. It triggers a fresh probe round
// and reports every source's health and circuit state.
func (h *DebugHandler) Sources(w http.ResponseWriter, r *http.Request) {
	statuses := h.prober.ProbeAll(r.Context())

	working := 0
	rows := make([]models.SourceDebug, 0, h.registry.Count())
	for _, src := range h.registry.All() {
		st := statuses[src.ID]
		if st.State == health.StateHealthy || st.State == health.StateDegraded {
			working++
		}
		rows = append(rows, models.SourceDebug{
			SourceID:     src.ID,
			Name:         src.Name,
			Priority:     src.Priority,
			Health:       st,
			CircuitState: h.clients.CircuitState(src.ID).String(),
		})
	}

	response.JSON(w, r, http.StatusOK, models.DebugSourcesResponse{
		Total:   h.registry.Count(),
		Working: working,
		Sources: rows,
		Time:    models.Timestamp(time.Now()),
	})
}
