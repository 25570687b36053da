package store

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/models"
)

func record(id, vale string, resolvedAt int64) models.AuditRecord {
	return models.AuditRecord{
		ID:            domain.ServerID(id),
		NumeroVale:    vale,
		CajeroNombre:  "ana",
		ClienteNombre: "Juan Perez",
		Monto:         decimal.RequireFromString("50000.50"),
		CuentaDestino: "SANTANDER",
		Referencia:    "12.345.678-9",
		Status:        domain.StatusApproved,
		Message:       "ok",
		AdminUsuario:  "root",
		CreatedAt:     resolvedAt - 1000,
		ResolvedAt:    resolvedAt,
	}
}

func TestMemoryStore_FirstRecordWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first := record("a", "V-1", 2000)
	second := first
	second.Status = domain.StatusTimeout

	if err := s.Record(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Errorf("Status = %s, want approved", got.Status)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListByVale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Record(ctx, record("a", "V-1", 1000))
	_ = s.Record(ctx, record("b", "V-1", 3000))
	_ = s.Record(ctx, record("c", "V-2", 2000))

	list, err := s.ListByVale(ctx, "V-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Errorf("ListByVale = %+v, want [b a]", list)
	}
}

func sameRecord(a, b models.AuditRecord) bool {
	return a.ID == b.ID && a.NumeroVale == b.NumeroVale && a.CajeroNombre == b.CajeroNombre &&
		a.ClienteNombre == b.ClienteNombre && a.Monto.Equal(b.Monto) && a.CuentaDestino == b.CuentaDestino &&
		a.Referencia == b.Referencia && a.Status == b.Status && a.Message == b.Message &&
		a.AdminUsuario == b.AdminUsuario && a.CreatedAt == b.CreatedAt && a.ResolvedAt == b.ResolvedAt
}

// checkRoundTrip records rec and expects Get and ListByVale to return it
// field for field, whatever the backend.
func checkRoundTrip(t *testing.T, s AuditStore, rec models.AuditRecord) {
	t.Helper()
	ctx := context.Background()
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sameRecord(*got, rec) {
		t.Errorf("Get = %+v\nwant %+v", *got, rec)
	}

	list, err := s.ListByVale(ctx, rec.NumeroVale)
	if err != nil {
		t.Fatalf("ListByVale: %v", err)
	}
	if len(list) != 1 || !sameRecord(list[0], rec) {
		t.Errorf("ListByVale = %+v\nwant [%+v]", list, rec)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	checkRoundTrip(t, NewMemoryStore(), record("a", "V-7", 5000))
}

type failingStore struct {
	*MemoryStore
	calls atomic.Int32
}

func (f *failingStore) Record(ctx context.Context, rec models.AuditRecord) error {
	f.calls.Add(1)
	return errors.New("connection refused")
}

func TestResilientStore_TripsAfterConsecutiveFailures(t *testing.T) {
	inner := &failingStore{MemoryStore: NewMemoryStore()}
	rs := NewResilientStore(inner, BreakerConfig{
		Timeout:             time.Second,
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rs.Record(ctx, record("a", "V-1", 1)); err == nil || errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: got %v, want the inner error", i, err)
		}
	}
	if err := rs.Record(ctx, record("a", "V-1", 1)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable once the breaker is open", err)
	}
	if n := inner.calls.Load(); n != 3 {
		t.Errorf("inner store called %d times, want 3", n)
	}
	if rs.State() != "open" {
		t.Errorf("State = %s, want open", rs.State())
	}
}

func TestResilientStore_NotFoundDoesNotTrip(t *testing.T) {
	rs := NewResilientStore(NewMemoryStore(), BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := rs.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	}
	if rs.State() != "closed" {
		t.Errorf("State = %s, want closed", rs.State())
	}
}

func TestResilientStore_PassThrough(t *testing.T) {
	rs := NewResilientStore(NewMemoryStore(), DefaultBreakerConfig())
	ctx := context.Background()

	if err := rs.Record(ctx, record("a", "V-9", 10)); err != nil {
		t.Fatal(err)
	}
	got, err := rs.Get(ctx, "a")
	if err != nil || got.NumeroVale != "V-9" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	list, err := rs.ListByVale(ctx, "V-9")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListByVale = %+v, %v", list, err)
	}
}

// TestPostgresStore runs against TRANSFERVAL_TEST_DB when it is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TRANSFERVAL_TEST_DB")
	if dsn == "" {
		t.Skip("TRANSFERVAL_TEST_DB not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer s.Close()

	if _, err := s.Db.Exec(ctx, Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	id := uuid.NewString()
	vale := "V-" + id[:8]
	now := time.Now().UnixMilli()
	rec := record(id, vale, now)

	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	dup := rec
	dup.Status = domain.StatusTimeout
	if err := s.Record(ctx, dup); err != nil {
		t.Fatalf("duplicate Record: %v", err)
	}

	got, err := s.Get(ctx, domain.ServerID(id))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusApproved || !got.Monto.Equal(rec.Monto) || got.ResolvedAt != now {
		t.Errorf("Get = %+v", got)
	}

	list, err := s.ListByVale(ctx, vale)
	if err != nil || len(list) != 1 || !sameRecord(list[0], rec) {
		t.Errorf("ListByVale = %+v, %v", list, err)
	}

	other := uuid.NewString()
	checkRoundTrip(t, s, record(other, "V-"+other[:8], now))

	if _, err := s.Get(ctx, "missing-"+domain.ServerID(id)); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
