package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/transferval/internal/admin"
	"github.com/punchamoorthee/transferval/internal/cashier"
	"github.com/punchamoorthee/transferval/internal/config"
	"github.com/punchamoorthee/transferval/internal/domain"
	"github.com/punchamoorthee/transferval/internal/logging"
	"github.com/punchamoorthee/transferval/internal/models"
	"github.com/punchamoorthee/transferval/internal/transport"
)

// Config holds the benchmark settings
var (
	hubURL      string
	concurrency int
	admins      int
	duration    time.Duration
	workload    string
	rejectRate  float64
)

// Metrics
var (
	totalRequests uint64
	approved      uint64
	rejected      uint64
	timedOut      uint64
	failOther     uint64
	latencyNanos  uint64
	conflicts     uint64 // Resolve calls that lost to another admin
)

func init() {
	flag.StringVar(&hubURL, "url", "ws://localhost:8080/ws", "Hub WebSocket URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent cashiers")
	flag.IntVar(&admins, "admins", 1, "Number of auto-deciding admins")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.Float64Var(&rejectRate, "reject", 0.1, "Fraction of requests admins reject")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Cashiers: %d | Admins: %d | Duration: %s", workload, concurrency, admins, duration)

	logger, err := logging.NewFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration+time.Minute)
	defer cancel()

	for i := 0; i < admins; i++ {
		stopAdmin, err := startAdmin(ctx, fmt.Sprintf("bench-admin-%d", i), logger)
		if err != nil {
			log.Fatalf("admin %d: %v", i, err)
		}
		defer stopAdmin()
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(ctx, &wg, i, start, logger)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// startAdmin connects an admin that decides every request it sees.
func startAdmin(ctx context.Context, usuario string, logger *logging.Logger) (func(), error) {
	opts := transport.DefaultOptions()
	opts.Logger = logger
	conn, err := transport.Dial(ctx, hubURL, transport.Credentials{Rol: models.RoomAdmin, Nombre: usuario}, opts)
	if err != nil {
		return nil, err
	}

	var coord *admin.Coordinator
	var seen sync.Map
	decide := func(list []models.TransferenciaPendiente) {
		for _, p := range list {
			id := p.ID
			if _, dup := seen.LoadOrStore(id, struct{}{}); dup {
				continue
			}
			go func() {
				ok, err := coord.Resolve(ctx, id, rand.Float64() >= rejectRate, "bench")
				if err == nil && !ok {
					atomic.AddUint64(&conflicts, 1)
				}
			}()
		}
	}
	coord = admin.New(conn, usuario, admin.WithLogger(logger), admin.WithOnChange(decide))
	coord.Start(ctx)

	return func() {
		coord.Stop()
		conn.Close()
	}, nil
}

func worker(ctx context.Context, wg *sync.WaitGroup, n int, start time.Time, logger *logging.Logger) {
	defer wg.Done()

	opts := transport.DefaultOptions()
	opts.Logger = logger
	nombre := fmt.Sprintf("bench-cajero-%d", n)
	conn, err := transport.Dial(ctx, hubURL, transport.Credentials{Rol: models.RoomCajero, Nombre: nombre}, opts)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	defer conn.Close()

	coord := cashier.New(conn, domain.NewAccountSet(config.DefaultAccounts...), cashier.WithLogger(logger))
	defer coord.Close()

	seq := 0
	for time.Since(start) < duration {
		seq++
		details := domain.TransferDetails{
			CajeroNombre:  nombre,
			ClienteNombre: "Cliente Bench",
			Monto:         decimal.NewFromInt(int64(rand.Intn(500000) + 1000)),
			CuentaDestino: pickAccount(),
			NumeroVale:    fmt.Sprintf("B-%d-%d-%d", n, seq, time.Now().UnixNano()),
		}

		sent := time.Now()
		corr, err := coord.Submit(ctx, details)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)

		updates, err := coord.Observe(string(corr))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		final, ok := awaitFinal(ctx, updates)
		if !ok {
			// Benchmark deadline hit with the request still open.
			atomic.AddUint64(&failOther, 1)
			return
		}
		atomic.AddUint64(&latencyNanos, uint64(time.Since(sent)))

		switch final.Status {
		case domain.StatusApproved:
			atomic.AddUint64(&approved, 1)
		case domain.StatusRejected:
			atomic.AddUint64(&rejected, 1)
		case domain.StatusTimeout:
			atomic.AddUint64(&timedOut, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		coord.Discard(string(corr))
	}
}

// awaitFinal returns the last update of a request. It reports false when ctx
// ends first.
func awaitFinal(ctx context.Context, updates <-chan cashier.Update) (domain.ValidationRequest, bool) {
	var last domain.ValidationRequest
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return last, true
			}
			last = u.Request
		case <-ctx.Done():
			return last, false
		}
	}
}

func pickAccount() string {
	accounts := config.DefaultAccounts
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to the first account
		if rand.Float32() < 0.90 {
			return accounts[0]
		}
	}
	return accounts[rand.Intn(len(accounts))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&approved)
	rej := atomic.LoadUint64(&rejected)
	to := atomic.LoadUint64(&timedOut)
	fErr := atomic.LoadUint64(&failOther)
	lost := atomic.LoadUint64(&conflicts)

	tps := float64(total) / d.Seconds()
	var avgMs float64
	if done := ok + rej + to; done > 0 {
		avgMs = float64(atomic.LoadUint64(&latencyNanos)) / float64(done) / float64(time.Millisecond)
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"approved":          ok,
		"rejected":          rej,
		"timed_out":         to,
		"avg_latency_ms":    avgMs,
		"decision_conflict": lost,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
