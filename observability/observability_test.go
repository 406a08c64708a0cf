package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/moisson/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

func TestInit_CreatesTables(t *testing.T) {
	// WHAT: Init creates the heartbeat and metrics tables.
	// WHY: Both writers assume the tables exist; a missing one only
	// surfaces as a flood of insert errors at runtime.
	db := setupObsDB(t)
	for _, table := range []string{"worker_heartbeats", "metrics_timeseries"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	// WHAT: Recorded metrics survive a flush and come back with value,
	// unit and labels intact.
	// WHY: The metrics endpoint reads this table; silent label loss
	// would make per-session history unfilterable.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Record(&Metric{
		Name:      MetricThroughput,
		Timestamp: time.Now(),
		Value:     42.5,
		Unit:      "per_minute",
		Labels:    map[string]string{"session": "s1"},
	})
	mm.RecordSimple(MetricConcurrency, 3, "count")

	// Close flushes the buffer; query through a fresh manager.
	mm.Close()
	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	metrics, err := mm2.Query(MetricThroughput, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("throughput count: got %d, want 1", len(metrics))
	}
	if metrics[0].Value != 42.5 {
		t.Fatalf("value: got %f, want 42.5", metrics[0].Value)
	}
	if metrics[0].Labels["session"] != "s1" {
		t.Fatalf("labels: got %v", metrics[0].Labels)
	}

	all, err := mm2.Query("", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all metrics count: got %d, want 2", len(all))
	}
}

func TestMetricsManager_BufferOverflowFlushes(t *testing.T) {
	// WHAT: Filling the buffer flushes without waiting for the ticker.
	// WHY: A busy session must not hold hours of datapoints in memory
	// behind a long flush interval.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 3, time.Hour)
	defer mm.Close()

	for i := 0; i < 3; i++ {
		mm.RecordSimple(MetricPagesFetched, float64(i), "count")
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&count)
	if count != 3 {
		t.Fatalf("rows after overflow: got %d, want 3", count)
	}
}

func TestMetricsManager_QueryTimeRange(t *testing.T) {
	// WHAT: A start-time filter excludes older datapoints.
	// WHY: "What did the tuner do overnight" is a windowed question.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	now := time.Now()
	mm.Record(&Metric{Name: MetricErrorRate, Timestamp: now.Add(-2 * time.Hour), Value: 0.5, Unit: "ratio"})
	mm.Record(&Metric{Name: MetricErrorRate, Timestamp: now, Value: 0.1, Unit: "ratio"})
	mm.Close()

	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	start := now.Add(-time.Hour)
	metrics, err := mm2.Query(MetricErrorRate, &start, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("windowed count: got %d, want 1", len(metrics))
	}
	if metrics[0].Value != 0.1 {
		t.Fatalf("windowed value: got %f, want 0.1", metrics[0].Value)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	// WHAT: Cleanup removes rows older than the retention window and
	// reports how many went.
	// WHY: The timeseries grows unbounded otherwise; a long-lived
	// operator box fills its disk with stale pacing history.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Record(&Metric{Name: "old", Timestamp: time.Now().Add(-40 * 24 * time.Hour), Value: 1, Unit: "count"})
	mm.Record(&Metric{Name: "new", Timestamp: time.Now(), Value: 2, Unit: "count"})
	mm.Close()

	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	deleted, err := mm2.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d, want 1", deleted)
	}
}

func TestCollectRuntimeMetrics(t *testing.T) {
	// WHAT: Runtime collection returns live, non-zero process stats.
	// WHY: A heartbeat full of zeros would read as a healthy but idle
	// process instead of a broken collector.
	m := CollectRuntimeMetrics()
	if m.GoroutinesCount <= 0 {
		t.Fatalf("goroutines: got %d, want > 0", m.GoroutinesCount)
	}
	if m.MemoryAllocMB <= 0 {
		t.Fatalf("memory alloc: got %f, want > 0", m.MemoryAllocMB)
	}
}

func TestHeartbeatWriter_WriteHeartbeat(t *testing.T) {
	// WHAT: A single heartbeat lands with the worker name and live
	// goroutine count.
	// WHY: The row is the liveness signal; wrong identity makes the
	// history useless when several workers share the database.
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "moisson", time.Minute)

	if err := hw.WriteHeartbeat(); err != nil {
		t.Fatal(err)
	}

	var workerName string
	var goroutines int
	db.QueryRow("SELECT worker_name, goroutines_count FROM worker_heartbeats LIMIT 1").
		Scan(&workerName, &goroutines)
	if workerName != "moisson" {
		t.Fatalf("worker_name: got %q, want %q", workerName, "moisson")
	}
	if goroutines <= 0 {
		t.Fatalf("goroutines: got %d, want > 0", goroutines)
	}
}

func TestHeartbeatWriter_StartStop(t *testing.T) {
	// WHAT: The loop beats immediately, then on the interval, and Stop
	// waits for the goroutine to exit.
	// WHY: An immediate first beat marks process start; a leaked loop
	// would keep writing after shutdown.
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "loop_worker", 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hw.Start(ctx)

	time.Sleep(180 * time.Millisecond)
	hw.Stop()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM worker_heartbeats WHERE worker_name='loop_worker'").Scan(&count)
	if count < 2 {
		t.Fatalf("heartbeat count: got %d, want >= 2", count)
	}
}
