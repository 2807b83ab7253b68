package encctx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"encode-hub/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes read-only introspection of an EncodeContext using go-chi.
type Handler struct {
	ec      *EncodeContext
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler for ec. Metrics may be nil.
func NewHandler(ec *EncodeContext, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{ec: ec, log: log, metrics: m}
}

// Routes mounts the introspection endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Get("/stats", h.Stats)
	r.Route("/rc", func(r chi.Router) {
		r.Get("/", h.RateControl)
		r.Get("/{slot}", h.RateControlSlot)
	})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ec.Snapshot())
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ec.StatsLog().Summary())
}

type rcRingResponse struct {
	Head   int      `json:"head"`
	Depth  int      `json:"depth"`
	States []string `json:"states"`
}

// RateControl handles GET /rc.
func (h *Handler) RateControl(w http.ResponseWriter, r *http.Request) {
	ring := h.ec.RateControlRing()
	states := ring.States()
	resp := rcRingResponse{Head: ring.Head(), Depth: ring.Depth(), States: make([]string, len(states))}
	for i, s := range states {
		resp.States[i] = s.String()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type rcSlotResponse struct {
	Slot   int               `json:"slot"`
	State  string            `json:"state"`
	Params *RateControlParam `json:"params,omitempty"`
}

// RateControlSlot handles GET /rc/{slot}. Parameters of a slot whose GOP is
// still in flight are owned by its stage and are not returned.
func (h *Handler) RateControlSlot(w http.ResponseWriter, r *http.Request) {
	ring := h.ec.RateControlRing()
	i, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || i < 0 || i >= ring.Depth() {
		h.log.Debug("invalid rate control slot", slog.String("slot", chi.URLParam(r, "slot")))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p, st, ok := ring.IdleSnapshot(i)
	resp := rcSlotResponse{Slot: i, State: st.String()}
	if !ok {
		h.writeJSON(w, http.StatusConflict, resp)
		return
	}
	resp.Params = &p
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response failed", slog.String("error", err.Error()))
		if h.metrics != nil {
			h.metrics.IncErrors()
		}
	}
}
