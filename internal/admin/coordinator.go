// Package admin keeps the list of transfers waiting for an admin decision
// and sends those decisions to the hub.
package admin

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/transport"
)

// PendingTransfer is one entry of the admin's queue.
type PendingTransfer struct {
	models.TransferenciaPendiente
	// resolving is set while a decision for this entry is being emitted.
	resolving bool
}

type Coordinator struct {
	transport transport.Transport
	usuario   string
	logger    *logging.Logger

	mu      sync.Mutex
	order   []domain.ServerID
	entries map[domain.ServerID]*PendingTransfer

	onChange func([]models.TransferenciaPendiente)
	subs     transport.SubscriptionSet
}

type Option func(*Coordinator)

func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithOnChange registers fn to receive the pending list after every change.
// fn runs without the coordinator's lock held.
func WithOnChange(fn func([]models.TransferenciaPendiente)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// New builds a coordinator acting as admin usuario. Call Start to begin
// listening to t.
func New(t transport.Transport, usuario string, opts ...Option) *Coordinator {
	c := &Coordinator{
		transport: t,
		usuario:   usuario,
		logger:    logging.L(),
		entries:   make(map[domain.ServerID]*PendingTransfer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("admin").With(zap.String("admin_usuario", usuario))
	return c
}

// Start subscribes to admin events and requests the current pending list.
// The list is requested again after every reconnect. A failed initial sync is
// logged; the next connect event retries it.
func (c *Coordinator) Start(ctx context.Context) {
	c.subs.Add(c.transport.Subscribe(models.EventNuevaPendiente, c.handleNueva))
	c.subs.Add(c.transport.Subscribe(models.EventProcesada, c.handleProcesada))
	c.subs.Add(c.transport.Subscribe(models.EventCancelada, c.handleCancelada))
	c.subs.Add(c.transport.Subscribe(models.EventListaPendientes, c.handleLista))
	c.subs.Add(c.transport.Subscribe(models.EventCajeroDesconectado, c.handleCajeroDesconectado))
	c.subs.Add(c.transport.Subscribe(transport.EventConnect, func(transport.Message) {
		if err := c.Sync(context.Background()); err != nil {
			c.logger.Warn("pending sync after reconnect failed", zap.Error(err))
		}
	}))

	if err := c.Sync(ctx); err != nil {
		c.logger.Warn("initial pending sync failed", zap.Error(err))
	}
}

// Stop unsubscribes from the transport.
func (c *Coordinator) Stop() {
	c.subs.Unsubscribe()
}

// Sync asks the hub for the authoritative pending list. The answer replaces
// the local list wholesale.
func (c *Coordinator) Sync(ctx context.Context) error {
	if err := c.transport.Emit(ctx, models.EventObtenerPendientes, struct{}{}); err != nil {
		return fmt.Errorf("obtener pendientes: %w", err)
	}
	return nil
}

// OnNewRequest appends p to the queue. A second arrival of the same id is
// ignored. It reports whether p was added.
func (c *Coordinator) OnNewRequest(p models.TransferenciaPendiente) bool {
	c.mu.Lock()
	if _, ok := c.entries[p.ID]; ok || p.ID == "" {
		c.mu.Unlock()
		return false
	}
	c.entries[p.ID] = &PendingTransfer{TransferenciaPendiente: p}
	c.order = append(c.order, p.ID)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("new pending transfer",
		zap.String("id", string(p.ID)),
		zap.String("numero_vale", p.NumeroVale),
		zap.String("monto", p.Monto.String()),
	)
	c.changed(snapshot)
	return true
}

// Resolve sends the admin's decision for id exactly once and drops id from
// the queue. It returns false, emitting nothing, when id is not pending or a
// decision for it is already in flight. If the emit fails the entry stays
// queued and the error is returned.
func (c *Coordinator) Resolve(ctx context.Context, id domain.ServerID, approved bool, observaciones string) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || e.resolving {
		c.mu.Unlock()
		c.logger.Debug("ignoring decision for transfer that is not pending", zap.String("id", string(id)))
		return false, nil
	}
	e.resolving = true
	c.mu.Unlock()

	err := c.transport.Emit(ctx, models.EventResponderValidacion, models.ResponderValidacion{
		ID:            id,
		Validada:      approved,
		Observaciones: observaciones,
		AdminUsuario:  c.usuario,
	})
	if err != nil {
		c.mu.Lock()
		if e, ok := c.entries[id]; ok {
			e.resolving = false
		}
		c.mu.Unlock()
		return false, fmt.Errorf("responder validacion %s: %w", id, err)
	}

	c.remove(id)
	c.logger.Info("transfer resolved",
		zap.String("id", string(id)),
		zap.Bool("validada", approved),
		zap.String("observaciones", observaciones),
	)
	return true, nil
}

// OnCajeroDisconnected flags id; the entry stays resolvable.
func (c *Coordinator) OnCajeroDisconnected(id domain.ServerID, mensaje string) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	e.CajeroDesconectado = true
	e.Mensaje = mensaje
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Warn("cashier disconnected with pending transfer", zap.String("id", string(id)))
	c.changed(snapshot)
	return true
}

// ReplaceAll makes list the pending queue, dropping everything else. An entry
// whose decision is still being emitted stays marked so Resolve cannot send
// a second one.
func (c *Coordinator) ReplaceAll(list []models.TransferenciaPendiente) {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[domain.ServerID]*PendingTransfer, len(list))
	c.order = c.order[:0]
	for _, p := range list {
		if _, dup := c.entries[p.ID]; dup || p.ID == "" {
			continue
		}
		e := &PendingTransfer{TransferenciaPendiente: p}
		if prev, ok := old[p.ID]; ok {
			e.resolving = prev.resolving
		}
		c.entries[p.ID] = e
		c.order = append(c.order, p.ID)
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("pending list synced", zap.Int("pending", len(snapshot)))
	c.changed(snapshot)
}

func (c *Coordinator) remove(id domain.ServerID) bool {
	c.mu.Lock()
	if _, ok := c.entries[id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.entries, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.changed(snapshot)
	return true
}

// Pending returns the queue in arrival order.
func (c *Coordinator) Pending() []models.TransferenciaPendiente {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Coordinator) snapshotLocked() []models.TransferenciaPendiente {
	out := make([]models.TransferenciaPendiente, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].TransferenciaPendiente)
	}
	return out
}

func (c *Coordinator) changed(snapshot []models.TransferenciaPendiente) {
	if c.onChange != nil {
		c.onChange(snapshot)
	}
}

func (c *Coordinator) handleNueva(msg transport.Message) {
	var p models.TransferenciaPendiente
	if err := msg.Decode(&p); err != nil {
		c.logger.Warn("ignoring malformed nueva_transferencia_pendiente", zap.Error(err))
		return
	}
	c.OnNewRequest(p)
}

func (c *Coordinator) handleProcesada(msg transport.Message) {
	var ev models.TransferenciaProcesada
	if err := msg.Decode(&ev); err != nil {
		c.logger.Warn("ignoring malformed transferencia_procesada", zap.Error(err))
		return
	}
	if c.remove(ev.ID) {
		c.logger.Info("transfer processed elsewhere", zap.String("id", string(ev.ID)), zap.String("by", ev.AdminUsuario))
	}
}

func (c *Coordinator) handleCancelada(msg transport.Message) {
	var ev models.TransferenciaCancelada
	if err := msg.Decode(&ev); err != nil {
		c.logger.Warn("ignoring malformed transferencia_cancelada", zap.Error(err))
		return
	}
	if c.remove(ev.ID) {
		c.logger.Info("transfer withdrawn", zap.String("id", string(ev.ID)), zap.String("motivo", ev.Motivo))
	}
}

func (c *Coordinator) handleLista(msg transport.Message) {
	var list []models.TransferenciaPendiente
	if err := msg.Decode(&list); err != nil {
		c.logger.Warn("ignoring malformed lista_transferencias_pendientes", zap.Error(err))
		return
	}
	c.ReplaceAll(list)
}

func (c *Coordinator) handleCajeroDesconectado(msg transport.Message) {
	var ev models.CajeroDesconectado
	if err := msg.Decode(&ev); err != nil {
		c.logger.Warn("ignoring malformed cajero_desconectado", zap.Error(err))
		return
	}
	c.OnCajeroDisconnected(ev.ID, ev.Mensaje)
}
