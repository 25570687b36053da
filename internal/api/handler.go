package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/service"
	"github.com/punchamoorthee/transferval/internal/store"
	"github.com/punchamoorthee/transferval/internal/transport"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transferval_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transferval_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

type Handler struct {
	svc      *service.ValidationService
	audit    store.AuditStore
	logger   *logging.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*wsSession
	closing  bool
	wg       conc.WaitGroup
}

// NewHandler serves the hub over HTTP. audit may be nil, in which case only
// pending requests can be looked up.
func NewHandler(svc *service.ValidationService, audit store.AuditStore, opts Options, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.L()
	}
	return &Handler{
		svc:    svc,
		audit:  audit,
		logger: logger.Named("api"),
		opts:   opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Terminals connect from the branch LAN without an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*wsSession),
	}
}

// Router wires every route onto a fresh mux.Router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ws", h.ServeWS)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/transferencias/pendientes", h.ListPending).Methods("GET")
	apiV1.HandleFunc("/transferencias/{id}", h.GetTransfer).Methods("GET")
	apiV1.HandleFunc("/vales/{numero}/validaciones", h.ListByVale).Methods("GET")
	return r
}

// ServeWS upgrades a cashier or admin terminal and runs its session until
// the connection drops.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	rol := r.URL.Query().Get("rol")
	nombre := r.URL.Query().Get("nombre")
	if rol != models.RoomCajero && rol != models.RoomAdmin {
		h.respondError(w, http.StatusBadRequest, "rol must be cajero or admin", "GET", "/ws")
		return
	}
	if nombre == "" {
		h.respondError(w, http.StatusBadRequest, "Missing nombre", "GET", "/ws")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		httpReqTotal.WithLabelValues("GET", "/ws", strconv.Itoa(http.StatusBadRequest)).Inc()
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	httpReqTotal.WithLabelValues("GET", "/ws", strconv.Itoa(http.StatusSwitchingProtocols)).Inc()

	sess := newWSSession(conn, rol, nombre, h.opts.ReadTimeout, h.opts.WriteTimeout, h.logger)
	if !h.track(sess) {
		sess.close()
		return
	}
	defer h.untrack(sess)

	h.svc.Join(sess)
	defer h.svc.Leave(sess)

	var pumps conc.WaitGroup
	pumps.Go(sess.writePump)
	sess.readPump(r.Context(), func(ctx context.Context, msg transport.Message) {
		h.svc.Handle(ctx, sess, msg)
	})
	sess.close()
	pumps.Wait()
}

func (h *Handler) track(s *wsSession) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s.id] = s
	return true
}

func (h *Handler) untrack(s *wsSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.id)
}

// CloseSessions disconnects every live WebSocket session. http.Server
// Shutdown does not touch hijacked connections.
func (h *Handler) CloseSessions() {
	h.mu.Lock()
	h.closing = true
	sessions := make([]*wsSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.wg.Go(s.close)
	}
	h.wg.Wait()
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rooms := h.svc.Rooms()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"cajeros":    rooms.Count(models.RoomCajero),
		"admins":     rooms.Count(models.RoomAdmin),
		"pendientes": len(h.svc.Pending()),
	}, "GET", "/health")
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/transferencias/pendientes"))
	defer timer.ObserveDuration()

	h.respondJSON(w, http.StatusOK, h.svc.Pending(), "GET", "/transferencias/pendientes")
}

// GetTransfer reports a request that is still pending, or its audit record
// once resolved.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/transferencias/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	id := domain.ServerID(mux.Vars(r)["id"])
	for _, p := range h.svc.Pending() {
		if p.ID == id {
			h.respondJSON(w, http.StatusOK, map[string]any{
				"status":        domain.StatusPending,
				"transferencia": p,
			}, "GET", endpoint)
			return
		}
	}

	if h.audit == nil {
		h.respondError(w, http.StatusNotFound, "Not Found", "GET", endpoint)
		return
	}
	rec, err := h.audit.Get(r.Context(), id)
	if err != nil {
		h.respondStoreError(w, err, "GET", endpoint)
		return
	}
	h.respondJSON(w, http.StatusOK, rec, "GET", endpoint)
}

func (h *Handler) ListByVale(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/vales/{numero}/validaciones"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	if h.audit == nil {
		h.respondJSON(w, http.StatusOK, []models.AuditRecord{}, "GET", endpoint)
		return
	}
	recs, err := h.audit.ListByVale(r.Context(), mux.Vars(r)["numero"])
	if err != nil {
		h.respondStoreError(w, err, "GET", endpoint)
		return
	}
	if recs == nil {
		recs = []models.AuditRecord{}
	}
	h.respondJSON(w, http.StatusOK, recs, "GET", endpoint)
}

// Helpers
func (h *Handler) respondStoreError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "Not Found", method, endpoint)
	case errors.Is(err, store.ErrUnavailable):
		h.respondError(w, http.StatusServiceUnavailable, "Audit store unavailable", method, endpoint)
	default:
		h.logger.Error("audit lookup failed", zap.String("endpoint", endpoint), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error(), method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
