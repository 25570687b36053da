package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusApproved, StatusRejected, StatusTimeout, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			want := from == StatusPending && to != StatusPending
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransition_FirstTerminalWins(t *testing.T) {
	now := time.Now()
	r := NewValidationRequest(TransferDetails{NumeroVale: "V-001"}, now)

	if !r.Transition(StatusTimeout, "sin respuesta", now) {
		t.Fatal("expected pending -> timeout to succeed")
	}
	if r.Transition(StatusApproved, "ok", now.Add(time.Second)) {
		t.Fatal("expected second terminal transition to be rejected")
	}
	if r.Status != StatusTimeout || r.Message != "sin respuesta" {
		t.Errorf("got status=%s message=%q, want timeout/sin respuesta", r.Status, r.Message)
	}
	if r.ResolvedAt == nil || !r.ResolvedAt.Equal(now) {
		t.Errorf("ResolvedAt = %v, want %v", r.ResolvedAt, now)
	}
}

func TestTransition_ToPendingRejected(t *testing.T) {
	r := NewValidationRequest(TransferDetails{}, time.Now())
	if r.Transition(StatusPending, "", time.Now()) {
		t.Fatal("pending -> pending must not be a transition")
	}
	if r.ResolvedAt != nil {
		t.Error("ResolvedAt must stay nil")
	}
}

func TestStatusForDecision(t *testing.T) {
	if StatusForDecision(true) != StatusApproved {
		t.Error("validada=true should map to approved")
	}
	if StatusForDecision(false) != StatusRejected {
		t.Error("validada=false should map to rejected")
	}
}

func TestTransferDetails_Validate(t *testing.T) {
	accounts := NewAccountSet("SANTANDER", "Banco Estado")
	base := TransferDetails{
		CajeroNombre:  "ana",
		ClienteNombre: "cliente",
		Monto:         decimal.NewFromInt(50000),
		CuentaDestino: "SANTANDER",
		NumeroVale:    "V-001",
	}

	tests := []struct {
		name    string
		mutate  func(d *TransferDetails)
		wantErr error
	}{
		{"valid", func(d *TransferDetails) {}, nil},
		{"account case insensitive", func(d *TransferDetails) { d.CuentaDestino = " banco estado " }, nil},
		{"zero amount", func(d *TransferDetails) { d.Monto = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(d *TransferDetails) { d.Monto = decimal.NewFromInt(-1) }, ErrInvalidAmount},
		{"missing account", func(d *TransferDetails) { d.CuentaDestino = "  " }, ErrMissingAccount},
		{"unknown account", func(d *TransferDetails) { d.CuentaDestino = "BCI" }, ErrUnknownAccount},
		{"missing voucher", func(d *TransferDetails) { d.NumeroVale = "" }, ErrMissingVoucher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mutate(&d)
			err := d.Validate(accounts)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccountSet_EmptyAcceptsAnyLabel(t *testing.T) {
	var set AccountSet
	if !set.Contains("CUALQUIERA") {
		t.Error("empty set should accept a non-empty label")
	}
	if set.Contains(" ") {
		t.Error("empty set should reject a blank label")
	}
}

func TestClone_DetachesResolvedAt(t *testing.T) {
	now := time.Now()
	r := NewValidationRequest(TransferDetails{}, now)
	r.Transition(StatusApproved, "ok", now)

	c := r.Clone()
	*c.ResolvedAt = now.Add(time.Hour)
	if !r.ResolvedAt.Equal(now) {
		t.Error("mutating the clone changed the original")
	}
}
