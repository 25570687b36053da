// Package cashier tracks the transfer validations a cashier session has
// asked the hub for.
//
// A request starts pending under a client correlation id, picks up its server
// id when the hub answers validacion_iniciada, and ends in exactly one
// terminal status. Whatever terminal event arrives first wins; later ones for
// the same id are dropped.
package cashier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/transport"
)

// Update is a snapshot of a request after a change.
type Update struct {
	Request domain.ValidationRequest
}

// Terminal reports whether this is the last update of the stream.
func (u Update) Terminal() bool {
	return u.Request.Status.IsTerminal()
}

// initial snapshot, acknowledgment and terminal transition.
const watchBuffer = 3

type entry struct {
	req *domain.ValidationRequest
	// cancelMotivo is set once Cancel has been called for a pending request.
	cancelMotivo    string
	cancelRequested bool
	watchers        []chan Update
}

type Coordinator struct {
	transport transport.Transport
	accounts  domain.AccountSet
	logger    *logging.Logger
	now       func() time.Time

	mu       sync.Mutex
	byClient map[domain.ClientCorrelationID]*entry
	byServer map[domain.ServerID]*entry

	subs transport.SubscriptionSet
}

type Option func(*Coordinator)

func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New subscribes to the hub's cashier events on t. Call Close to unsubscribe.
func New(t transport.Transport, accounts domain.AccountSet, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: t,
		accounts:  accounts,
		logger:    logging.L(),
		now:       time.Now,
		byClient:  make(map[domain.ClientCorrelationID]*entry),
		byServer:  make(map[domain.ServerID]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cashier")

	c.subs.Add(t.Subscribe(models.EventValidacionIniciada, c.onIniciada))
	c.subs.Add(t.Subscribe(models.EventResultadoValidacion, c.onResultado))
	c.subs.Add(t.Subscribe(models.EventValidacionTimeout, c.onTimeout))
	c.subs.Add(t.Subscribe(models.EventValidacionCancelada, c.onCancelada))
	return c
}

// Close unsubscribes from the transport and ends every open Observe stream.
func (c *Coordinator) Close() {
	c.subs.Unsubscribe()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.byClient {
		for _, w := range e.watchers {
			close(w)
		}
		e.watchers = nil
	}
}

// Submit validates details and asks the hub for a validation. Invalid
// details are rejected before anything is emitted. The returned correlation
// id identifies the request until, and after, the hub assigns its server id.
func (c *Coordinator) Submit(ctx context.Context, details domain.TransferDetails) (domain.ClientCorrelationID, error) {
	if err := details.Validate(c.accounts); err != nil {
		return "", err
	}

	req := domain.NewValidationRequest(details, c.now())
	e := &entry{req: req}

	c.mu.Lock()
	c.byClient[req.CorrelationID] = e
	c.mu.Unlock()

	if err := c.transport.Emit(ctx, models.EventSolicitarValidacion, models.NewSolicitarValidacion(req)); err != nil {
		c.mu.Lock()
		delete(c.byClient, req.CorrelationID)
		c.mu.Unlock()
		return "", fmt.Errorf("solicitar validacion: %w", err)
	}

	c.logger.Info("validation requested",
		zap.String("correlation_id", string(req.CorrelationID)),
		zap.String("numero_vale", details.NumeroVale),
		zap.String("monto", details.Monto.String()),
		zap.String("cuenta_destino", details.CuentaDestino),
	)
	return req.CorrelationID, nil
}

// lookup resolves either kind of id. Callers hold c.mu.
func (c *Coordinator) lookup(id string) *entry {
	if e, ok := c.byServer[domain.ServerID(id)]; ok {
		return e
	}
	return c.byClient[domain.ClientCorrelationID(id)]
}

// Get returns a snapshot of the request known by id.
func (c *Coordinator) Get(id string) (domain.ValidationRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lookup(id)
	if e == nil {
		return domain.ValidationRequest{}, false
	}
	return e.req.Clone(), true
}

// Observe streams snapshots of the request: the current state first, then one
// update per change. The channel is closed after the terminal update.
func (c *Coordinator) Observe(id string) (<-chan Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(id)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownRequest, id)
	}
	ch := make(chan Update, watchBuffer)
	ch <- Update{Request: e.req.Clone()}
	if e.req.Status.IsTerminal() {
		close(ch)
		return ch, nil
	}
	e.watchers = append(e.watchers, ch)
	return ch, nil
}

// notify fans the current state out to watchers. Callers hold c.mu.
func (e *entry) notify() {
	u := Update{Request: e.req.Clone()}
	for _, w := range e.watchers {
		select {
		case w <- u:
		default:
		}
	}
	if u.Terminal() {
		for _, w := range e.watchers {
			close(w)
		}
		e.watchers = nil
	}
}

// Cancel asks the hub to stop tracking a pending request. An unknown or
// already terminal request is left alone. An acknowledged request becomes
// cancelled only when the hub confirms; a result that beats the confirmation
// wins instead. A request the hub has not acknowledged yet is cancelled
// locally right away and the cancel is forwarded once its server id arrives.
func (c *Coordinator) Cancel(ctx context.Context, id, motivo string) error {
	c.mu.Lock()
	e := c.lookup(id)
	if e == nil || e.req.Status.IsTerminal() {
		c.mu.Unlock()
		return nil
	}
	e.cancelRequested = true
	e.cancelMotivo = motivo

	if !e.req.Acknowledged() {
		e.req.Transition(domain.StatusCancelled, motivo, c.now())
		e.notify()
		c.mu.Unlock()
		c.logger.Info("validation cancelled before acknowledgment", zap.String("correlation_id", id))
		return nil
	}
	serverID := e.req.ID
	c.mu.Unlock()

	if err := c.transport.Emit(ctx, models.EventCancelarValidacion, models.CancelarValidacion{ID: serverID, Motivo: motivo}); err != nil {
		return fmt.Errorf("cancelar validacion: %w", err)
	}
	c.logger.Info("cancellation requested", zap.String("id", string(serverID)), zap.String("motivo", motivo))
	return nil
}

// Discard forgets a terminal request. Pending requests are kept.
func (c *Coordinator) Discard(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(id)
	if e == nil || !e.req.Status.IsTerminal() {
		return false
	}
	delete(c.byClient, e.req.CorrelationID)
	if e.req.ID != "" {
		delete(c.byServer, e.req.ID)
	}
	return true
}

// Pending returns snapshots of the requests still waiting on the hub.
func (c *Coordinator) Pending() []domain.ValidationRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []domain.ValidationRequest
	for _, e := range c.byClient {
		if e.req.Status == domain.StatusPending {
			out = append(out, e.req.Clone())
		}
	}
	return out
}

func (c *Coordinator) onIniciada(msg transport.Message) {
	var ev models.ValidacionIniciada
	if err := msg.Decode(&ev); err != nil || ev.ID == "" {
		c.logger.Warn("ignoring malformed validacion_iniciada", zap.Error(err))
		return
	}

	c.mu.Lock()
	e := c.matchAcknowledgment(ev)
	if e == nil {
		c.mu.Unlock()
		c.logger.Debug("validacion_iniciada for unknown request", zap.String("id", string(ev.ID)))
		return
	}
	if e.req.Acknowledged() {
		c.mu.Unlock()
		c.logger.Debug("duplicate validacion_iniciada", zap.String("id", string(ev.ID)))
		return
	}
	e.req.ID = ev.ID
	c.byServer[ev.ID] = e
	forwardCancel := e.cancelRequested
	motivo := e.cancelMotivo
	if !e.req.Status.IsTerminal() {
		e.notify()
	}
	c.mu.Unlock()

	c.logger.Info("validation acknowledged",
		zap.String("id", string(ev.ID)),
		zap.String("correlation_id", string(e.req.CorrelationID)),
	)

	if forwardCancel {
		if err := c.transport.Emit(context.Background(), models.EventCancelarValidacion, models.CancelarValidacion{ID: ev.ID, Motivo: motivo}); err != nil {
			c.logger.Warn("forwarding cancellation failed", zap.String("id", string(ev.ID)), zap.Error(err))
		}
	}
}

// matchAcknowledgment finds the request an acknowledgment belongs to. Hubs
// that do not echo the correlation id are matched against the only
// unacknowledged request, if there is exactly one. Callers hold c.mu.
func (c *Coordinator) matchAcknowledgment(ev models.ValidacionIniciada) *entry {
	if e, ok := c.byServer[ev.ID]; ok {
		return e
	}
	if ev.CorrelationID != "" {
		return c.byClient[ev.CorrelationID]
	}
	var match *entry
	for _, e := range c.byClient {
		if e.req.Acknowledged() {
			continue
		}
		if match != nil {
			return nil
		}
		match = e
	}
	return match
}

// finish applies a terminal transition for a server id. Duplicate and late
// terminal events are no-ops.
func (c *Coordinator) finish(id domain.ServerID, to domain.Status, message string) {
	c.mu.Lock()
	e, ok := c.byServer[id]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("terminal event for unknown request", zap.String("id", string(id)), zap.String("status", string(to)))
		return
	}
	if !e.req.Transition(to, message, c.now()) {
		current := e.req.Status
		c.mu.Unlock()
		c.logger.Debug("dropping late terminal event",
			zap.String("id", string(id)),
			zap.String("status", string(to)),
			zap.String("current", string(current)),
		)
		return
	}
	e.notify()
	c.mu.Unlock()

	c.logger.Info("validation finished",
		zap.String("id", string(id)),
		zap.String("status", string(to)),
		zap.String("message", message),
	)
}

func (c *Coordinator) onResultado(msg transport.Message) {
	var ev models.ResultadoValidacion
	if err := msg.Decode(&ev); err != nil {
		c.logger.Warn("ignoring malformed resultado_validacion", zap.Error(err))
		return
	}
	c.finish(ev.ID, domain.StatusForDecision(ev.Validada), ev.Annotation())
}

func (c *Coordinator) onTimeout(msg transport.Message) {
	var ev models.ValidacionTimeout
	if err := msg.Decode(&ev); err != nil {
		c.logger.Warn("ignoring malformed validacion_timeout", zap.Error(err))
		return
	}
	c.finish(ev.ID, domain.StatusTimeout, ev.Mensaje)
}

func (c *Coordinator) onCancelada(msg transport.Message) {
	var ev models.ValidacionCancelada
	if err := msg.Decode(&ev); err != nil {
		c.logger.Warn("ignoring malformed validacion_cancelada", zap.Error(err))
		return
	}

	c.mu.Lock()
	e, ok := c.byServer[ev.ID]
	motivo := ev.Mensaje
	if ok && motivo == "" {
		motivo = e.cancelMotivo
	}
	c.mu.Unlock()

	c.finish(ev.ID, domain.StatusCancelled, motivo)
}
