package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidAmount  = errors.New("monto must be positive")
	ErrMissingAccount = errors.New("cuenta_destino is required")
	ErrUnknownAccount = errors.New("cuenta_destino is not an allowed destination account")
	ErrMissingVoucher = errors.New("numero_vale is required")
	ErrUnknownRequest = errors.New("validation request not found")
	ErrNotPending     = errors.New("validation request is no longer pending")
)

// AccountSet is the enumerated set of destination accounts a transfer may
// target. An empty set accepts any non-empty account label.
type AccountSet map[string]struct{}

// NewAccountSet builds a set from labels; labels are matched case-insensitively.
func NewAccountSet(labels ...string) AccountSet {
	set := make(AccountSet, len(labels))
	for _, l := range labels {
		l = normalizeAccount(l)
		if l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}

func (s AccountSet) Contains(label string) bool {
	if len(s) == 0 {
		return normalizeAccount(label) != ""
	}
	_, ok := s[normalizeAccount(label)]
	return ok
}

// Labels returns the accounts in sorted order.
func (s AccountSet) Labels() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func normalizeAccount(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// Validate checks the details before anything is sent to the hub.
func (d TransferDetails) Validate(accounts AccountSet) error {
	if !d.Monto.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidAmount, d.Monto.String())
	}
	if strings.TrimSpace(d.CuentaDestino) == "" {
		return ErrMissingAccount
	}
	if !accounts.Contains(d.CuentaDestino) {
		return fmt.Errorf("%w: %q", ErrUnknownAccount, d.CuentaDestino)
	}
	if strings.TrimSpace(d.NumeroVale) == "" {
		return ErrMissingVoucher
	}
	return nil
}
