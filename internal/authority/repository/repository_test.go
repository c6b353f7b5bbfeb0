package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"ied-sentinel/internal/authority/domain"
	"ied-sentinel/internal/db"
	"ied-sentinel/internal/db/migrate"
	ieddomain "ied-sentinel/internal/ied/domain"
	telemetrydomain "ied-sentinel/internal/telemetry/domain"
)

// exercise runs the same checks against every implementation.
func exercise(t *testing.T, repo Repository, device string) {
	t.Helper()
	ctx := context.Background()

	if err := repo.ReplaceIDs(ctx, []string{"RDSO", "IPP", device}); err != nil {
		t.Fatalf("ReplaceIDs: %v", err)
	}
	ids, err := repo.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 3 || ids[0] != "RDSO" || ids[2] != device {
		t.Errorf("ListIDs = %v", ids)
	}

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		rec := telemetrydomain.NewRecord(telemetrydomain.KindStandard, ieddomain.VerdictValid, ieddomain.StatusClosed, uint32(i), base)
		rec.ID = uuid.New().String()
		rec.DeviceID = device
		rec.ValidationLatency = time.Duration(i) * time.Millisecond
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		e := domain.Entry{Record: rec, BookkeepingLatency: telemetrydomain.NotApplicable}
		if err := repo.SaveEntry(ctx, &e); err != nil {
			t.Fatalf("SaveEntry: %v", err)
		}
	}

	latest, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	got, ok := latest[device]
	if !ok || got.StNum != 3 {
		t.Fatalf("Latest[%s] = %+v, want stNum 3", device, got)
	}
	if got.ValidationLatency != 3*time.Millisecond || got.ActualDowntime != telemetrydomain.NotApplicable {
		t.Errorf("latencies = %v / %v", got.ValidationLatency, got.ActualDowntime)
	}
	if got.BookkeepingLatency != telemetrydomain.NotApplicable {
		t.Errorf("BookkeepingLatency = %v, want NotApplicable", got.BookkeepingLatency)
	}

	hist, err := repo.History(ctx, device, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].StNum != 2 || hist[1].StNum != 3 {
		t.Errorf("History(2) = %+v, want stNum 2,3", hist)
	}
	all, _ := repo.History(ctx, device, 0)
	if len(all) != 3 {
		t.Errorf("History(0) len = %d, want 3", len(all))
	}
	if err := repo.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository([]string{"RDSO", "IPP"})
	ids, _ := repo.ListIDs(context.Background())
	if len(ids) != 2 {
		t.Fatalf("initial ids = %v", ids)
	}
	exercise(t, repo, "IPP-2")
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository([]string{"RDSO"})
	ids, _ := repo.ListIDs(context.Background())
	ids[0] = "X"
	again, _ := repo.ListIDs(context.Background())
	if again[0] != "RDSO" {
		t.Errorf("ListIDs leaked internal slice: %v", again)
	}
}

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Skipf("migrate: %v", err)
	}
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		t.Skipf("Database connection failed: %v", err)
	}
	defer conn.Close()

	repo := NewPostgresRepository(conn)
	prev, err := repo.ListIDs(context.Background())
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	defer func() { _ = repo.ReplaceIDs(context.Background(), prev) }()
	exercise(t, repo, "test-"+uuid.New().String()[:8])
}
