package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/repo"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := db.AutoMigrate(&domain.NCRRow{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, no, status string, updated time.Time) {
	t.Helper()
	_, err := repo.AppendRows(context.Background(), db, []domain.NCRRow{{
		ID: no + "-1", TicketNo: no, LineNo: 1, CreatedBy: "An",
		DefectName: "Đứt chỉ", Severity: "Nhẹ", Quantity: 1, Status: status,
		CreatedAt: updated, UpdatedAt: updated,
	}})
	if err != nil {
		t.Fatalf("seed %s: %v", no, err)
	}
}

func staleGauge(t *testing.T) map[string]float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "ncr_stale_tickets" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" {
					out[lp.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	return out
}

func TestScanStale_SkipsTerminalAndFresh(t *testing.T) {
	db := newDB(t)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * time.Hour)
	seed(t, db, "MAY-03-001", "cho_qc_manager", old)
	seed(t, db, "MAY-03-002", "cho_qc_manager", old)
	seed(t, db, "MAY-03-003", "cho_truong_ca", old)
	seed(t, db, "MAY-03-004", "hoan_thanh", old)
	seed(t, db, "MAY-03-005", "da_huy", old)
	seed(t, db, "MAY-03-006", "cho_truong_ca", now.Add(-time.Hour))

	s := New(db, Options{StaleAfter: 24 * time.Hour, Now: func() time.Time { return now }})
	counts, err := s.ScanStale(context.Background())
	if err != nil {
		t.Fatalf("ScanStale: %v", err)
	}
	if len(counts) != 2 || counts["cho_qc_manager"] != 2 || counts["cho_truong_ca"] != 1 {
		t.Fatalf("counts=%v", counts)
	}

	g := staleGauge(t)
	if g["cho_qc_manager"] != 2 || g["cho_truong_ca"] != 1 {
		t.Fatalf("gauge=%v", g)
	}
	if _, ok := g["hoan_thanh"]; ok {
		t.Fatalf("terminal status exported: %v", g)
	}
}

func TestPurgeIdempotency_RemovesExpiredOnly(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	if _, err := repo.CreateIdempotency(ctx, db, "An", "POST /tickets", "k1", 201, []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("create k1: %v", err)
	}
	if _, err := repo.CreateIdempotency(ctx, db, "An", "POST /tickets", "k2", 201, []byte(`{}`), 48*time.Hour); err != nil {
		t.Fatalf("create k2: %v", err)
	}

	later := time.Now().UTC().Add(2 * time.Hour)
	s := New(db, Options{Now: func() time.Time { return later }})
	n, err := s.PurgeIdempotency(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if _, err := repo.GetIdempotency(ctx, db, "An", "POST /tickets", "k2", later); err != nil {
		t.Fatalf("k2 should survive: %v", err)
	}
}

func TestStart_InvalidSpec(t *testing.T) {
	s := New(newDB(t), Options{StaleSpec: "every now and then"})
	if err := s.Start(); err == nil {
		t.Fatal("expected an error for a bad cron spec")
	}
}

func TestStartStop(t *testing.T) {
	s := New(newDB(t), Options{StaleSpec: "*/15 * * * *", PurgeSpec: "@hourly", StaleAfter: time.Hour})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(s.engine.Entries()); got != 2 {
		t.Fatalf("entries=%d", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRunJobs_DoNotPanicOnStoreErrors(t *testing.T) {
	db := newDB(t)
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	s := New(db, Options{StaleAfter: time.Hour})
	s.runStaleScan()
	s.runPurge()
}
