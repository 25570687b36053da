package models

import (
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferval/internal/domain"
)

// Event names on the wire.
const (
	// cashier -> hub
	EventSolicitarValidacion = "solicitar_validacion_transferencia"
	EventCancelarValidacion  = "cancelar_validacion_transferencia"

	// admin -> hub
	EventResponderValidacion = "responder_validacion_transferencia"
	EventObtenerPendientes   = "obtener_transferencias_pendientes"

	// hub -> cashier
	EventValidacionIniciada  = "validacion_iniciada"
	EventResultadoValidacion = "resultado_validacion"
	EventValidacionTimeout   = "validacion_timeout"
	EventValidacionCancelada = "validacion_cancelada"

	// hub -> admin
	EventNuevaPendiente     = "nueva_transferencia_pendiente"
	EventProcesada          = "transferencia_procesada"
	EventCancelada          = "transferencia_cancelada"
	EventListaPendientes    = "lista_transferencias_pendientes"
	EventCajeroDesconectado = "cajero_desconectado"
)

// Rooms sessions join on connect.
const (
	RoomCajero = "cajero"
	RoomAdmin  = "admin"
)

// SolicitarValidacion is the cashier's request payload.
type SolicitarValidacion struct {
	CorrelationID domain.ClientCorrelationID `json:"correlation_id,omitempty"`
	CajeroNombre  string                     `json:"cajero_nombre"`
	ClienteNombre string                     `json:"cliente_nombre"`
	Monto         decimal.Decimal            `json:"monto"`
	CuentaDestino string                     `json:"cuenta_destino"`
	Referencia    string                     `json:"referencia"`
	NumeroVale    string                     `json:"numero_vale"`
}

// Details strips the correlation id.
func (s SolicitarValidacion) Details() domain.TransferDetails {
	return domain.TransferDetails{
		CajeroNombre:  s.CajeroNombre,
		ClienteNombre: s.ClienteNombre,
		Monto:         s.Monto,
		CuentaDestino: s.CuentaDestino,
		Referencia:    s.Referencia,
		NumeroVale:    s.NumeroVale,
	}
}

// NewSolicitarValidacion builds the wire payload for a client-side request.
func NewSolicitarValidacion(r *domain.ValidationRequest) SolicitarValidacion {
	return SolicitarValidacion{
		CorrelationID: r.CorrelationID,
		CajeroNombre:  r.CajeroNombre,
		ClienteNombre: r.ClienteNombre,
		Monto:         r.Monto,
		CuentaDestino: r.CuentaDestino,
		Referencia:    r.Referencia,
		NumeroVale:    r.NumeroVale,
	}
}

type CancelarValidacion struct {
	ID     domain.ServerID `json:"id"`
	Motivo string          `json:"motivo"`
}

type ResponderValidacion struct {
	ID            domain.ServerID `json:"id"`
	Validada      bool            `json:"validada"`
	Observaciones string          `json:"observaciones"`
	AdminUsuario  string          `json:"admin_usuario"`
}

type ValidacionIniciada struct {
	ID            domain.ServerID            `json:"id"`
	Mensaje       string                     `json:"mensaje"`
	CorrelationID domain.ClientCorrelationID `json:"correlation_id,omitempty"`
}

// ResultadoValidacion carries the decision. Older hubs send the annotation
// in Mensaje instead of Observaciones.
type ResultadoValidacion struct {
	ID            domain.ServerID `json:"id"`
	Validada      bool            `json:"validada"`
	Observaciones string          `json:"observaciones,omitempty"`
	Mensaje       string          `json:"mensaje,omitempty"`
}

// Annotation returns the human-readable message attached to the decision.
func (r ResultadoValidacion) Annotation() string {
	if r.Observaciones != "" {
		return r.Observaciones
	}
	return r.Mensaje
}

type ValidacionTimeout struct {
	ID      domain.ServerID `json:"id"`
	Mensaje string          `json:"mensaje"`
}

type ValidacionCancelada struct {
	ID      domain.ServerID `json:"id"`
	Mensaje string          `json:"mensaje,omitempty"`
}

// TransferenciaPendiente is how a pending request is shown to admins.
type TransferenciaPendiente struct {
	ID            domain.ServerID `json:"id"`
	CajeroNombre  string          `json:"cajero_nombre"`
	ClienteNombre string          `json:"cliente_nombre"`
	Monto         decimal.Decimal `json:"monto"`
	CuentaDestino string          `json:"cuenta_destino"`
	Referencia    string          `json:"referencia"`
	NumeroVale    string          `json:"numero_vale"`
	CreatedAt     int64           `json:"timestamp"`
	// Set once the originating cashier session has dropped.
	CajeroDesconectado bool   `json:"cajero_desconectado,omitempty"`
	Mensaje            string `json:"mensaje,omitempty"`
}

// NewTransferenciaPendiente projects a request for the admin room.
func NewTransferenciaPendiente(r domain.ValidationRequest) TransferenciaPendiente {
	return TransferenciaPendiente{
		ID:            r.ID,
		CajeroNombre:  r.CajeroNombre,
		ClienteNombre: r.ClienteNombre,
		Monto:         r.Monto,
		CuentaDestino: r.CuentaDestino,
		Referencia:    r.Referencia,
		NumeroVale:    r.NumeroVale,
		CreatedAt:     r.CreatedAt.UnixMilli(),
	}
}

// Request converts the admin view back into a pending domain request.
func (p TransferenciaPendiente) Request() domain.ValidationRequest {
	return domain.ValidationRequest{
		ID: p.ID,
		TransferDetails: domain.TransferDetails{
			CajeroNombre:  p.CajeroNombre,
			ClienteNombre: p.ClienteNombre,
			Monto:         p.Monto,
			CuentaDestino: p.CuentaDestino,
			Referencia:    p.Referencia,
			NumeroVale:    p.NumeroVale,
		},
		Status: domain.StatusPending,
	}
}

type TransferenciaProcesada struct {
	ID           domain.ServerID `json:"id"`
	Validada     bool            `json:"validada"`
	AdminUsuario string          `json:"admin_usuario,omitempty"`
}

type TransferenciaCancelada struct {
	ID     domain.ServerID `json:"id"`
	Motivo string          `json:"motivo,omitempty"`
}

type CajeroDesconectado struct {
	ID      domain.ServerID `json:"id"`
	Mensaje string          `json:"mensaje"`
}

// AuditRecord is the persisted outcome of a validation.
type AuditRecord struct {
	ID            domain.ServerID `json:"id"`
	NumeroVale    string          `json:"numero_vale"`
	CajeroNombre  string          `json:"cajero_nombre"`
	ClienteNombre string          `json:"cliente_nombre"`
	Monto         decimal.Decimal `json:"monto"`
	CuentaDestino string          `json:"cuenta_destino"`
	Referencia    string          `json:"referencia"`
	Status        domain.Status   `json:"status"`
	Message       string          `json:"message"`
	AdminUsuario  string          `json:"admin_usuario,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	ResolvedAt    int64           `json:"resolved_at"`
}

// NewAuditRecord snapshots a terminal request.
func NewAuditRecord(r domain.ValidationRequest) AuditRecord {
	rec := AuditRecord{
		ID:            r.ID,
		NumeroVale:    r.NumeroVale,
		CajeroNombre:  r.CajeroNombre,
		ClienteNombre: r.ClienteNombre,
		Monto:         r.Monto,
		CuentaDestino: r.CuentaDestino,
		Referencia:    r.Referencia,
		Status:        r.Status,
		Message:       r.Message,
		AdminUsuario:  r.AdminUsuario,
		CreatedAt:     r.CreatedAt.UnixMilli(),
	}
	if r.ResolvedAt != nil {
		rec.ResolvedAt = r.ResolvedAt.UnixMilli()
	}
	return rec
}
