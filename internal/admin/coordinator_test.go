package admin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/transport"
	"github.com/punchamoorthee/transferval/internal/transport/mock"
)

func pendiente(id string, monto int64) models.TransferenciaPendiente {
	return models.TransferenciaPendiente{
		ID:            domain.ServerID(id),
		CajeroNombre:  "ana",
		ClienteNombre: "Juan Perez",
		Monto:         decimal.NewFromInt(monto),
		CuentaDestino: "SANTANDER",
		NumeroVale:    "V-" + id,
	}
}

func setup(t *testing.T) (*Coordinator, *mock.Transport) {
	t.Helper()
	tr := mock.New()
	c := New(tr, "root")
	c.Start(context.Background())
	t.Cleanup(c.Stop)
	tr.Reset()
	return c, tr
}

func ids(list []models.TransferenciaPendiente) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = string(p.ID)
	}
	return out
}

func TestStart_RequestsPendingList(t *testing.T) {
	tr := mock.New()
	c := New(tr, "root")
	c.Start(context.Background())
	defer c.Stop()

	if n := len(tr.EmittedEvents(models.EventObtenerPendientes)); n != 1 {
		t.Errorf("emitted %d sync requests on start, want 1", n)
	}
}

func TestScenario_AdminRejects(t *testing.T) {
	c, tr := setup(t)
	tr.Deliver(models.EventNuevaPendiente, pendiente("xyz", 10000))

	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", c.PendingCount())
	}

	ok, err := c.Resolve(context.Background(), "xyz", false, "rut no coincide")
	if err != nil || !ok {
		t.Fatalf("Resolve = %v, %v; want true, nil", ok, err)
	}

	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after resolve, want 0", c.PendingCount())
	}
	sent := tr.EmittedEvents(models.EventResponderValidacion)
	if len(sent) != 1 {
		t.Fatalf("emitted %d decisions, want exactly 1", len(sent))
	}
	var decision models.ResponderValidacion
	if err := sent[0].Decode(&decision); err != nil {
		t.Fatal(err)
	}
	want := models.ResponderValidacion{ID: "xyz", Validada: false, Observaciones: "rut no coincide", AdminUsuario: "root"}
	if decision != want {
		t.Errorf("decision = %+v, want %+v", decision, want)
	}

	// A second decision for the same id is dropped.
	ok, err = c.Resolve(context.Background(), "xyz", true, "")
	if ok || err != nil {
		t.Errorf("second Resolve = %v, %v; want false, nil", ok, err)
	}
	if n := len(tr.EmittedEvents(models.EventResponderValidacion)); n != 1 {
		t.Errorf("emitted %d decisions after double resolve, want 1", n)
	}
}

func TestResolve_UnknownIDLeavesListUnchanged(t *testing.T) {
	c, tr := setup(t)
	c.OnNewRequest(pendiente("a", 100))

	ok, err := c.Resolve(context.Background(), "missing", true, "")
	if ok || err != nil {
		t.Fatalf("Resolve = %v, %v; want false, nil", ok, err)
	}
	if got := ids(c.Pending()); len(got) != 1 || got[0] != "a" {
		t.Errorf("Pending = %v, want [a]", got)
	}
	if n := len(tr.Emitted()); n != 0 {
		t.Errorf("emitted %d messages, want 0", n)
	}
}

func TestResolve_EmitFailureKeepsEntry(t *testing.T) {
	c, tr := setup(t)
	c.OnNewRequest(pendiente("a", 100))
	tr.FailEmits(transport.ErrNotConnected)

	ok, err := c.Resolve(context.Background(), "a", true, "ok")
	if ok || !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("Resolve = %v, %v; want false, ErrNotConnected", ok, err)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("entry dropped after failed emit")
	}

	tr.FailEmits(nil)
	if ok, err := c.Resolve(context.Background(), "a", true, "ok"); !ok || err != nil {
		t.Errorf("retry Resolve = %v, %v; want true, nil", ok, err)
	}
}

func TestResolve_ConcurrentCallsEmitOnce(t *testing.T) {
	c, tr := setup(t)
	c.OnNewRequest(pendiente("a", 100))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Resolve(context.Background(), "a", true, "ok")
		}()
	}
	wg.Wait()

	if n := len(tr.EmittedEvents(models.EventResponderValidacion)); n != 1 {
		t.Errorf("emitted %d decisions, want 1", n)
	}
}

// holdingTransport parks decision emits until release is closed.
type holdingTransport struct {
	*mock.Transport
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}
}

func (h *holdingTransport) Emit(ctx context.Context, event string, payload any) error {
	if event == models.EventResponderValidacion {
		h.enteredOnce.Do(func() { close(h.entered) })
		<-h.release
	}
	return h.Transport.Emit(ctx, event, payload)
}

func TestResolve_SyncDuringEmitDoesNotResend(t *testing.T) {
	tr := &holdingTransport{Transport: mock.New(), entered: make(chan struct{}), release: make(chan struct{})}
	c := New(tr, "root")
	c.Start(context.Background())
	defer c.Stop()
	c.OnNewRequest(pendiente("a", 100))

	first := make(chan bool, 1)
	go func() {
		ok, _ := c.Resolve(context.Background(), "a", true, "ok")
		first <- ok
	}()
	<-tr.entered

	// The hub still lists "a" because the decision has not reached it yet.
	tr.Deliver(models.EventListaPendientes, []models.TransferenciaPendiente{pendiente("a", 100)})
	if ok, err := c.Resolve(context.Background(), "a", false, "again"); ok || err != nil {
		t.Errorf("Resolve during in-flight emit = %v, %v; want false, nil", ok, err)
	}

	close(tr.release)
	if !<-first {
		t.Fatal("first Resolve reported false")
	}
	if n := len(tr.EmittedEvents(models.EventResponderValidacion)); n != 1 {
		t.Errorf("emitted %d decisions, want 1", n)
	}
	if n := c.PendingCount(); n != 0 {
		t.Errorf("pending = %d after resolve, want 0", n)
	}
}

func TestOnNewRequest_Idempotent(t *testing.T) {
	c, tr := setup(t)
	tr.Deliver(models.EventNuevaPendiente, pendiente("a", 100))
	tr.Deliver(models.EventNuevaPendiente, pendiente("a", 100))
	tr.Deliver(models.EventNuevaPendiente, pendiente("b", 200))

	if got := ids(c.Pending()); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Pending = %v, want [a b]", got)
	}
}

func TestCajeroDesconectado_FlagsWithoutRemoving(t *testing.T) {
	c, tr := setup(t)
	c.OnNewRequest(pendiente("a", 100))

	tr.Deliver(models.EventCajeroDesconectado, models.CajeroDesconectado{ID: "a", Mensaje: "el cajero se desconecto"})

	list := c.Pending()
	if len(list) != 1 {
		t.Fatalf("Pending has %d entries, want 1", len(list))
	}
	if !list[0].CajeroDesconectado || list[0].Mensaje != "el cajero se desconecto" {
		t.Errorf("entry not flagged: %+v", list[0])
	}
	if ok, err := c.Resolve(context.Background(), "a", true, "ok"); !ok || err != nil {
		t.Errorf("flagged entry should still resolve, got %v, %v", ok, err)
	}
}

func TestProcesadaAndCanceladaRemove(t *testing.T) {
	c, tr := setup(t)
	c.OnNewRequest(pendiente("a", 100))
	c.OnNewRequest(pendiente("b", 200))
	c.OnNewRequest(pendiente("c", 300))

	tr.Deliver(models.EventProcesada, models.TransferenciaProcesada{ID: "a", Validada: true, AdminUsuario: "otro"})
	tr.Deliver(models.EventCancelada, models.TransferenciaCancelada{ID: "c"})

	if got := ids(c.Pending()); len(got) != 1 || got[0] != "b" {
		t.Errorf("Pending = %v, want [b]", got)
	}
}

func TestLista_ReplacesWholesale(t *testing.T) {
	c, tr := setup(t)
	c.OnNewRequest(pendiente("stale", 1))

	tr.Deliver(models.EventListaPendientes, []models.TransferenciaPendiente{pendiente("x", 1), pendiente("y", 2), pendiente("x", 1)})

	if got := ids(c.Pending()); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("Pending = %v, want [x y]", got)
	}
}

func TestReconnect_Resyncs(t *testing.T) {
	_, tr := setup(t)

	tr.Deliver(transport.EventConnect, nil)

	if n := len(tr.EmittedEvents(models.EventObtenerPendientes)); n != 1 {
		t.Errorf("emitted %d sync requests after reconnect, want 1", n)
	}
}

func TestOnChange(t *testing.T) {
	tr := mock.New()
	var calls [][]models.TransferenciaPendiente
	c := New(tr, "root", WithOnChange(func(list []models.TransferenciaPendiente) {
		calls = append(calls, list)
	}))

	c.OnNewRequest(pendiente("a", 1))
	c.OnNewRequest(pendiente("a", 1))
	if _, err := c.Resolve(context.Background(), "a", true, ""); err != nil {
		t.Fatal(err)
	}

	if len(calls) != 2 {
		t.Fatalf("onChange called %d times, want 2", len(calls))
	}
	if len(calls[0]) != 1 || len(calls[1]) != 0 {
		t.Errorf("unexpected snapshots %v", calls)
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	tr := mock.New()
	c := New(tr, "root")
	c.Start(context.Background())
	c.Stop()
	if n := tr.Subscriptions(); n != 0 {
		t.Errorf("Subscriptions = %d after Stop, want 0", n)
	}
}
