package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferval/internal/admin"
	"github.com/punchamoorthee/transferval/internal/cashier"
	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/service"
	"github.com/punchamoorthee/transferval/internal/store"
	"github.com/punchamoorthee/transferval/internal/transport"
)

var accounts = domain.NewAccountSet("SANTANDER", "BANCO ESTADO", "BCI")

type hub struct {
	srv   *httptest.Server
	svc   *service.ValidationService
	audit *store.MemoryStore
}

func newTestHub(t *testing.T, timeout time.Duration) *hub {
	t.Helper()
	audit := store.NewMemoryStore()
	svc := service.NewValidationService(service.Config{
		ValidationTimeout: timeout,
		Accounts:          accounts,
	}, audit, nil, logging.NewNop())
	h := NewHandler(svc, audit, Options{ReadTimeout: 5 * time.Second, WriteTimeout: time.Second}, logging.NewNop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		h.CloseSessions()
		srv.Close()
		svc.Close()
	})
	return &hub{srv: srv, svc: svc, audit: audit}
}

func (h *hub) dial(t *testing.T, rol, nombre string) *transport.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	opts := transport.DefaultOptions()
	opts.Logger = logging.NewNop()
	c, err := transport.Dial(ctx, "ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws", transport.Credentials{Rol: rol, Nombre: nombre}, opts)
	if err != nil {
		t.Fatalf("dial %s: %v", rol, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func details(vale string) domain.TransferDetails {
	return domain.TransferDetails{
		CajeroNombre:  "ana",
		ClienteNombre: "Juan Perez",
		Monto:         decimal.RequireFromString("125000"),
		CuentaDestino: "BCI",
		Referencia:    "12.345.678-9",
		NumeroVale:    vale,
	}
}

func awaitTerminal(t *testing.T, updates <-chan cashier.Update) domain.ValidationRequest {
	t.Helper()
	timeout := time.After(3 * time.Second)
	var last domain.ValidationRequest
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return last
			}
			last = u.Request
		case <-timeout:
			t.Fatalf("no terminal update, last status %s", last.Status)
		}
	}
}

func TestHandshake_ApproveOverWebSocket(t *testing.T) {
	h := newTestHub(t, time.Minute)

	adminConn := h.dial(t, models.RoomAdmin, "root")
	adm := admin.New(adminConn, "root", admin.WithLogger(logging.NewNop()))
	adm.Start(context.Background())
	defer adm.Stop()

	cajeroConn := h.dial(t, models.RoomCajero, "ana")
	caj := cashier.New(cajeroConn, accounts, cashier.WithLogger(logging.NewNop()))
	defer caj.Close()

	eventually(t, "both sessions joined", func() bool {
		return h.svc.Rooms().Count(models.RoomAdmin) == 1 && h.svc.Rooms().Count(models.RoomCajero) == 1
	})

	corr, err := caj.Submit(context.Background(), details("V-100"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	updates, err := caj.Observe(string(corr))
	if err != nil {
		t.Fatal(err)
	}

	eventually(t, "admin sees the request", func() bool { return adm.PendingCount() == 1 })
	pending := adm.Pending()[0]
	if pending.NumeroVale != "V-100" || !pending.Monto.Equal(decimal.RequireFromString("125000")) {
		t.Fatalf("admin pending = %+v", pending)
	}

	ok, err := adm.Resolve(context.Background(), pending.ID, true, "ok")
	if err != nil || !ok {
		t.Fatalf("Resolve = %v, %v", ok, err)
	}

	final := awaitTerminal(t, updates)
	if final.Status != domain.StatusApproved || final.Message != "ok" || final.ID != pending.ID {
		t.Errorf("cashier final = %+v", final)
	}
	eventually(t, "admin list drained", func() bool { return adm.PendingCount() == 0 })

	eventually(t, "audit record", func() bool { return h.audit.Len() == 1 })
	resp, err := http.Get(h.srv.URL + "/api/v1/transferencias/" + string(pending.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rec models.AuditRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || rec.Status != domain.StatusApproved || rec.AdminUsuario != "root" {
		t.Errorf("GET transferencia = %d %+v", resp.StatusCode, rec)
	}
}

func TestHandshake_ServerTimeout(t *testing.T) {
	h := newTestHub(t, 100*time.Millisecond)

	cajeroConn := h.dial(t, models.RoomCajero, "ana")
	caj := cashier.New(cajeroConn, accounts, cashier.WithLogger(logging.NewNop()))
	defer caj.Close()
	eventually(t, "cashier joined", func() bool { return h.svc.Rooms().Count(models.RoomCajero) == 1 })

	corr, err := caj.Submit(context.Background(), details("V-101"))
	if err != nil {
		t.Fatal(err)
	}
	updates, err := caj.Observe(string(corr))
	if err != nil {
		t.Fatal(err)
	}
	if final := awaitTerminal(t, updates); final.Status != domain.StatusTimeout {
		t.Errorf("status = %s, want timeout", final.Status)
	}
}

func TestHandshake_CancelReachesAdmins(t *testing.T) {
	h := newTestHub(t, time.Minute)

	adminConn := h.dial(t, models.RoomAdmin, "root")
	adm := admin.New(adminConn, "root", admin.WithLogger(logging.NewNop()))
	adm.Start(context.Background())
	defer adm.Stop()

	cajeroConn := h.dial(t, models.RoomCajero, "ana")
	caj := cashier.New(cajeroConn, accounts, cashier.WithLogger(logging.NewNop()))
	defer caj.Close()
	eventually(t, "sessions joined", func() bool { return h.svc.Rooms().Count(models.RoomCajero) == 1 })

	corr, err := caj.Submit(context.Background(), details("V-102"))
	if err != nil {
		t.Fatal(err)
	}
	updates, err := caj.Observe(string(corr))
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, "admin sees the request", func() bool { return adm.PendingCount() == 1 })

	if err := caj.Cancel(context.Background(), string(corr), "cliente se retiró"); err != nil {
		t.Fatal(err)
	}
	if final := awaitTerminal(t, updates); final.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", final.Status)
	}
	eventually(t, "admin list drained", func() bool { return adm.PendingCount() == 0 })
}

func TestServeWS_RejectsBadRol(t *testing.T) {
	h := newTestHub(t, time.Minute)
	resp, err := http.Get(h.srv.URL + "/ws?rol=gerente&nombre=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetTransfer_NotFound(t *testing.T) {
	h := newTestHub(t, time.Minute)
	resp, err := http.Get(h.srv.URL + "/api/v1/transferencias/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthAndPendingList(t *testing.T) {
	h := newTestHub(t, time.Minute)

	rr := httptest.NewRecorder()
	h.srv.Config.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Errorf("health = %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.srv.Config.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/transferencias/pendientes", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("pendientes = %d %s", rr.Code, rr.Body.String())
	}
}
