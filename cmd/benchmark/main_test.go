package main

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/transferval/internal/cashier"
	"github.com/punchamoorthee/transferval/internal/domain"
)

func TestAwaitFinal_ReturnsLastUpdate(t *testing.T) {
	updates := make(chan cashier.Update, 2)
	updates <- cashier.Update{Request: domain.ValidationRequest{ID: "srv-1", Status: domain.StatusPending}}
	updates <- cashier.Update{Request: domain.ValidationRequest{ID: "srv-1", Status: domain.StatusApproved}}
	close(updates)

	final, ok := awaitFinal(context.Background(), updates)
	if !ok || final.Status != domain.StatusApproved {
		t.Errorf("awaitFinal = %+v, %v; want approved, true", final, ok)
	}
}

func TestAwaitFinal_StopsWithContext(t *testing.T) {
	updates := make(chan cashier.Update, 1)
	updates <- cashier.Update{Request: domain.ValidationRequest{ID: "srv-2", Status: domain.StatusPending}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		_, ok := awaitFinal(ctx, updates)
		done <- ok
	}()
	select {
	case ok := <-done:
		if ok {
			t.Error("awaitFinal reported a final update for a request still pending")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("awaitFinal ignored the context")
	}
}
