package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClientCorrelationID is created by the cashier at submission time, before
// the hub has acknowledged the request.
type ClientCorrelationID string

// ServerID is assigned by the hub when it acknowledges a request.
type ServerID string

// NewClientCorrelationID returns a fresh correlation id.
func NewClientCorrelationID() ClientCorrelationID {
	return ClientCorrelationID(uuid.NewString())
}

// NewServerID returns a fresh server id.
func NewServerID() ServerID {
	return ServerID(uuid.NewString())
}

// TransferDetails is what the cashier enters when a customer pays by bank transfer.
type TransferDetails struct {
	CajeroNombre  string          `json:"cajero_nombre"`
	ClienteNombre string          `json:"cliente_nombre"`
	Monto         decimal.Decimal `json:"monto"`
	CuentaDestino string          `json:"cuenta_destino"`
	Referencia    string          `json:"referencia,omitempty"`
	NumeroVale    string          `json:"numero_vale"`
}

// ValidationRequest is one transfer awaiting (or past) admin validation.
// Status only moves through Transition.
type ValidationRequest struct {
	ID            ServerID            `json:"id"`
	CorrelationID ClientCorrelationID `json:"correlation_id,omitempty"`
	TransferDetails
	Status       Status     `json:"status"`
	Message      string     `json:"message,omitempty"`
	AdminUsuario string     `json:"admin_usuario,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// NewValidationRequest returns a pending request carrying only a correlation id.
func NewValidationRequest(details TransferDetails, now time.Time) *ValidationRequest {
	return &ValidationRequest{
		CorrelationID:   NewClientCorrelationID(),
		TransferDetails: details,
		Status:          StatusPending,
		CreatedAt:       now,
	}
}

// Acknowledged reports whether the hub has assigned a server id.
func (r *ValidationRequest) Acknowledged() bool {
	return r.ID != ""
}

// Clone returns a copy that shares no pointers with r.
func (r *ValidationRequest) Clone() ValidationRequest {
	c := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}
