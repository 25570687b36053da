// Package service is the hub side of the transfer validation handshake: it
// assigns server ids, relays requests to admins and decisions back to the
// originating cashier, and times out requests nobody answers.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/store"
	"github.com/punchamoorthee/transferval/internal/transport"
)

const (
	mensajeIniciada    = "Solicitud enviada al administrador"
	mensajeValidada    = "Transferencia validada"
	mensajeRechazada   = "Transferencia rechazada"
	mensajeTimeout     = "No se recibió respuesta del administrador"
	motivoTimeout      = "timeout"
	mensajeCancelada   = "Validación cancelada"
	mensajeDesconexion = "El cajero %s se desconectó"
)

type Config struct {
	// ValidationTimeout bounds how long a request waits for an admin.
	ValidationTimeout time.Duration
	// AuditTimeout bounds each audit write.
	AuditTimeout time.Duration
	Accounts     domain.AccountSet
}

type pendingEntry struct {
	req          domain.ValidationRequest
	sessionID    string
	cajero       string
	disconnected bool
	timer        *time.Timer
}

type ValidationService struct {
	cfg     Config
	rooms   *Rooms
	audit   store.AuditStore
	arbiter Arbiter
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[domain.ServerID]*pendingEntry
	closed  bool

	wg conc.WaitGroup
}

// NewValidationService wires the hub. audit may be nil to skip the audit
// trail; arbiter may be nil for a single hub.
func NewValidationService(cfg Config, audit store.AuditStore, arbiter Arbiter, logger *logging.Logger) *ValidationService {
	if logger == nil {
		logger = logging.L()
	}
	if arbiter == nil {
		arbiter = localArbiter{}
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 2 * time.Second
	}
	return &ValidationService{
		cfg:     cfg,
		rooms:   NewRooms(),
		audit:   audit,
		arbiter: arbiter,
		logger:  logger.Named("hub"),
		now:     time.Now,
		pending: make(map[domain.ServerID]*pendingEntry),
	}
}

func (s *ValidationService) Rooms() *Rooms {
	return s.rooms
}

// Join registers a freshly connected session. A cashier reconnecting under
// the same name takes over routing of its earlier pending requests.
func (s *ValidationService) Join(sess Session) {
	s.rooms.Join(sess)
	sessionsConnected.WithLabelValues(sess.Rol()).Inc()

	rebound := 0
	if sess.Rol() == models.RoomCajero {
		s.mu.Lock()
		for _, e := range s.pending {
			if e.cajero == sess.Nombre() && e.disconnected {
				e.sessionID = sess.ID()
				e.disconnected = false
				rebound++
			}
		}
		s.mu.Unlock()
	}

	s.logger.Info("session joined",
		zap.String("session", sess.ID()),
		zap.String("rol", sess.Rol()),
		zap.String("nombre", sess.Nombre()),
		zap.Int("rebound", rebound),
	)
}

// Leave unregisters sess. Pending requests of sess move to another live
// session of the same cashier when there is one, which happens when the old
// socket closes after the terminal already reconnected. Otherwise admins are
// told the cashier left; those requests stay resolvable.
func (s *ValidationService) Leave(sess Session) {
	if !s.rooms.Leave(sess) {
		return
	}
	sessionsConnected.WithLabelValues(sess.Rol()).Dec()
	s.logger.Info("session left", zap.String("session", sess.ID()), zap.String("rol", sess.Rol()))

	if sess.Rol() != models.RoomCajero {
		return
	}

	var orphaned []domain.ServerID
	s.mu.Lock()
	successor := ""
	if live := s.rooms.ByNombre(models.RoomCajero, sess.Nombre()); len(live) > 0 {
		successor = live[0].ID()
	}
	for id, e := range s.pending {
		if e.sessionID != sess.ID() {
			continue
		}
		if successor != "" {
			e.sessionID = successor
			continue
		}
		e.disconnected = true
		orphaned = append(orphaned, id)
	}
	s.mu.Unlock()

	for _, id := range orphaned {
		s.broadcast(models.RoomAdmin, models.EventCajeroDesconectado, models.CajeroDesconectado{
			ID:      id,
			Mensaje: fmt.Sprintf(mensajeDesconexion, sess.Nombre()),
		})
	}
}

// Handle dispatches one inbound message from sess.
func (s *ValidationService) Handle(ctx context.Context, sess Session, msg transport.Message) {
	switch msg.Event {
	case models.EventSolicitarValidacion:
		if s.allowed(sess, msg, models.RoomCajero) {
			s.requestValidation(sess, msg)
		}
	case models.EventCancelarValidacion:
		if s.allowed(sess, msg, models.RoomCajero) {
			s.cancelValidation(ctx, sess, msg)
		}
	case models.EventResponderValidacion:
		if s.allowed(sess, msg, models.RoomAdmin) {
			s.respond(ctx, sess, msg)
		}
	case models.EventObtenerPendientes:
		if s.allowed(sess, msg, models.RoomAdmin) {
			s.send(sess, models.EventListaPendientes, s.pendingList())
		}
	default:
		s.drop(msg.Event, "unknown_event", zap.String("session", sess.ID()))
	}
}

func (s *ValidationService) allowed(sess Session, msg transport.Message, rol string) bool {
	if sess.Rol() != rol {
		s.drop(msg.Event, "forbidden", zap.String("session", sess.ID()), zap.String("rol", sess.Rol()))
		return false
	}
	return true
}

func (s *ValidationService) drop(event, reason string, fields ...zap.Field) {
	messagesDropped.WithLabelValues(event, reason).Inc()
	s.logger.Debug("message dropped", append(fields, zap.String("event", event), zap.String("reason", reason))...)
}

func (s *ValidationService) requestValidation(sess Session, msg transport.Message) {
	var in models.SolicitarValidacion
	if err := msg.Decode(&in); err != nil {
		s.drop(msg.Event, "malformed", zap.Error(err))
		return
	}
	details := in.Details()
	if details.CajeroNombre == "" {
		details.CajeroNombre = sess.Nombre()
	}
	if err := details.Validate(s.cfg.Accounts); err != nil {
		s.drop(msg.Event, "invalid", zap.Error(err), zap.String("numero_vale", details.NumeroVale))
		return
	}

	req := domain.ValidationRequest{
		ID:              domain.NewServerID(),
		CorrelationID:   in.CorrelationID,
		TransferDetails: details,
		Status:          domain.StatusPending,
		CreatedAt:       s.now(),
	}
	e := &pendingEntry{req: req, sessionID: sess.ID(), cajero: sess.Nombre()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[req.ID] = e
	id := req.ID
	e.timer = time.AfterFunc(s.cfg.ValidationTimeout, func() { s.expire(id) })
	n := len(s.pending)
	s.mu.Unlock()

	validationsRequested.Inc()
	validationsPending.Set(float64(n))
	s.logger.Info("validation requested",
		zap.String("id", string(req.ID)),
		zap.String("cajero", details.CajeroNombre),
		zap.String("numero_vale", details.NumeroVale),
		zap.String("monto", details.Monto.String()),
		zap.String("cuenta_destino", details.CuentaDestino),
	)

	s.send(sess, models.EventValidacionIniciada, models.ValidacionIniciada{
		ID:            req.ID,
		Mensaje:       mensajeIniciada,
		CorrelationID: req.CorrelationID,
	})
	s.broadcast(models.RoomAdmin, models.EventNuevaPendiente, models.NewTransferenciaPendiente(req))
}

// finish takes id out of the pending registry and applies its terminal
// transition. Only the first caller for an id gets ok=true.
func (s *ValidationService) finish(ctx context.Context, id domain.ServerID, to domain.Status, message, admin string) (*pendingEntry, bool) {
	s.mu.Lock()
	e, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.pending, id)
	if e.timer != nil {
		e.timer.Stop()
	}
	n := len(s.pending)
	s.mu.Unlock()
	validationsPending.Set(float64(n))

	won, err := s.arbiter.Claim(ctx, id, to)
	if err != nil {
		s.logger.Warn("arbiter unavailable, accepting local outcome", zap.String("id", string(id)), zap.Error(err))
	} else if !won {
		s.logger.Info("outcome already decided by another hub", zap.String("id", string(id)), zap.String("status", string(to)))
		return nil, false
	}

	e.req.AdminUsuario = admin
	e.req.Transition(to, message, s.now())
	validationsFinished.WithLabelValues(string(to)).Inc()
	decisionLatency.Observe(e.req.ResolvedAt.Sub(e.req.CreatedAt).Seconds())
	s.recordAudit(e.req)

	s.logger.Info("validation finished",
		zap.String("id", string(id)),
		zap.String("status", string(to)),
		zap.String("admin_usuario", admin),
		zap.String("message", message),
	)
	return e, true
}

func (s *ValidationService) recordAudit(req domain.ValidationRequest) {
	if s.audit == nil {
		return
	}
	rec := models.NewAuditRecord(req)
	write := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AuditTimeout)
		defer cancel()
		if err := s.audit.Record(ctx, rec); err != nil {
			s.logger.Warn("audit record failed", zap.String("id", string(rec.ID)), zap.Error(err))
		}
	}

	// Close waits on wg, so no write may be added to it once closed is set.
	s.mu.Lock()
	if !s.closed {
		s.wg.Go(write)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	write()
}

func (s *ValidationService) respond(ctx context.Context, sess Session, msg transport.Message) {
	var in models.ResponderValidacion
	if err := msg.Decode(&in); err != nil {
		s.drop(msg.Event, "malformed", zap.Error(err))
		return
	}
	admin := in.AdminUsuario
	if admin == "" {
		admin = sess.Nombre()
	}

	e, ok := s.finish(ctx, in.ID, domain.StatusForDecision(in.Validada), in.Observaciones, admin)
	if !ok {
		s.drop(msg.Event, "not_pending", zap.String("id", string(in.ID)), zap.String("admin_usuario", admin))
		return
	}

	mensaje := mensajeRechazada
	if in.Validada {
		mensaje = mensajeValidada
	}
	s.sendToCajero(e, models.EventResultadoValidacion, models.ResultadoValidacion{
		ID:            in.ID,
		Validada:      in.Validada,
		Observaciones: in.Observaciones,
		Mensaje:       mensaje,
	})
	s.broadcast(models.RoomAdmin, models.EventProcesada, models.TransferenciaProcesada{
		ID:           in.ID,
		Validada:     in.Validada,
		AdminUsuario: admin,
	})
}

func (s *ValidationService) cancelValidation(ctx context.Context, sess Session, msg transport.Message) {
	var in models.CancelarValidacion
	if err := msg.Decode(&in); err != nil {
		s.drop(msg.Event, "malformed", zap.Error(err))
		return
	}

	s.mu.Lock()
	e, ok := s.pending[in.ID]
	owner := ok && (e.sessionID == sess.ID() || e.cajero == sess.Nombre())
	s.mu.Unlock()
	if !ok {
		s.drop(msg.Event, "not_pending", zap.String("id", string(in.ID)))
		return
	}
	if !owner {
		s.drop(msg.Event, "not_owner", zap.String("id", string(in.ID)), zap.String("session", sess.ID()))
		return
	}

	motivo := in.Motivo
	if motivo == "" {
		motivo = mensajeCancelada
	}
	if _, ok := s.finish(ctx, in.ID, domain.StatusCancelled, motivo, ""); !ok {
		s.drop(msg.Event, "not_pending", zap.String("id", string(in.ID)))
		return
	}

	s.send(sess, models.EventValidacionCancelada, models.ValidacionCancelada{ID: in.ID, Mensaje: motivo})
	s.broadcast(models.RoomAdmin, models.EventCancelada, models.TransferenciaCancelada{ID: in.ID, Motivo: motivo})
}

func (s *ValidationService) expire(id domain.ServerID) {
	e, ok := s.finish(context.Background(), id, domain.StatusTimeout, mensajeTimeout, "")
	if !ok {
		return
	}
	s.sendToCajero(e, models.EventValidacionTimeout, models.ValidacionTimeout{ID: id, Mensaje: mensajeTimeout})
	s.broadcast(models.RoomAdmin, models.EventCancelada, models.TransferenciaCancelada{ID: id, Motivo: motivoTimeout})
}

// sendToCajero delivers to the session that made the request or, once that
// session is gone, to any session the same cashier reconnected with. An
// unreachable cashier is logged and otherwise ignored.
func (s *ValidationService) sendToCajero(e *pendingEntry, event string, payload any) {
	if sess, ok := s.rooms.Get(e.sessionID); ok {
		s.send(sess, event, payload)
		return
	}
	targets := s.rooms.ByNombre(models.RoomCajero, e.cajero)
	if len(targets) == 0 {
		s.logger.Warn("cashier unreachable", zap.String("id", string(e.req.ID)), zap.String("cajero", e.cajero), zap.String("event", event))
		return
	}
	for _, sess := range targets {
		s.send(sess, event, payload)
	}
}

func (s *ValidationService) send(sess Session, event string, payload any) {
	msg, err := transport.NewMessage(event, payload)
	if err != nil {
		s.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	if err := sess.Send(msg); err != nil {
		s.logger.Warn("send failed", zap.String("session", sess.ID()), zap.String("event", event), zap.Error(err))
	}
}

func (s *ValidationService) broadcast(room, event string, payload any) {
	msg, err := transport.NewMessage(event, payload)
	if err != nil {
		s.logger.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, sess := range s.rooms.Members(room) {
		if err := sess.Send(msg); err != nil {
			s.logger.Warn("broadcast send failed", zap.String("session", sess.ID()), zap.String("event", event), zap.Error(err))
		}
	}
}

func (s *ValidationService) pendingList() []models.TransferenciaPendiente {
	s.mu.Lock()
	entries := make([]*pendingEntry, 0, len(s.pending))
	for _, e := range s.pending {
		entries = append(entries, e)
	}
	out := make([]models.TransferenciaPendiente, 0, len(entries))
	sort.Slice(entries, func(i, j int) bool { return entries[i].req.CreatedAt.Before(entries[j].req.CreatedAt) })
	for _, e := range entries {
		p := models.NewTransferenciaPendiente(e.req)
		if e.disconnected {
			p.CajeroDesconectado = true
			p.Mensaje = fmt.Sprintf(mensajeDesconexion, e.cajero)
		}
		out = append(out, p)
	}
	s.mu.Unlock()
	return out
}

// Pending returns the requests still waiting for an admin, oldest first.
func (s *ValidationService) Pending() []models.TransferenciaPendiente {
	return s.pendingList()
}

// Close stops every timeout timer and waits for in-flight audit writes.
func (s *ValidationService) Close() {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
