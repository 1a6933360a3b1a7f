//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/jabbala/tenantfair"
	"github.com/jabbala/tenantfair/dlq"
	"github.com/jabbala/tenantfair/id"
	bunstore "github.com/jabbala/tenantfair/store/bun"
	"github.com/jabbala/tenantfair/tier"
)

// setupArchive creates a Postgres container and returns a migrated Store.
func setupArchive(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("tenantfair_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func newEntry(tenantID string, recordedAt time.Time) *dlq.Entry {
	arrival := recordedAt.Add(-time.Minute)
	return &dlq.Entry{
		ID:         id.NewDLQID(),
		RequestID:  id.NewRequestID(),
		TenantID:   tenantID,
		Tier:       tier.Professional,
		Payload:    []byte(`{"prompt":"hello"}`),
		Reason:     "queue_timeout",
		ArrivalAt:  arrival,
		DeadlineAt: arrival.Add(30 * time.Second),
		RecordedAt: recordedAt,
	}
}

func TestArchive_PushGetRoundTrip(t *testing.T) {
	s := setupArchive(t)
	ctx := context.Background()

	e := newEntry("acme", time.Now().UTC())
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TenantID != e.TenantID || got.Tier != e.Tier || got.Reason != e.Reason {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if string(got.Payload) != string(e.Payload) {
		t.Fatal("payload mismatch")
	}
}

func TestArchive_PushIsIdempotent(t *testing.T) {
	s := setupArchive(t)
	ctx := context.Background()

	e := newEntry("acme", time.Now().UTC())
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("duplicate push must be a no-op, got %v", err)
	}
	count, _ := s.CountDLQ(ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestArchive_ListNewestFirst(t *testing.T) {
	s := setupArchive(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := range 3 {
		if err := s.PushDLQ(ctx, newEntry("acme", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PushDLQ(ctx, newEntry("other", base)); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{TenantID: "acme", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("listed %d, want 2", len(entries))
	}
	if entries[0].RecordedAt.Before(entries[1].RecordedAt) {
		t.Fatal("list must be newest first")
	}
	for _, e := range entries {
		if e.TenantID != "acme" {
			t.Fatalf("tenant filter leaked entry for %q", e.TenantID)
		}
	}
}

func TestArchive_ReplayExactlyOnce(t *testing.T) {
	s := setupArchive(t)
	ctx := context.Background()

	e := newEntry("acme", time.Now().UTC())
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplayDLQ(ctx, e.ID); err != nil {
		t.Fatalf("first replay: %v", err)
	}
	if err := s.ReplayDLQ(ctx, e.ID); !errors.Is(err, tenantfair.ErrAlreadyResolved) {
		t.Fatalf("second replay err = %v, want ErrAlreadyResolved", err)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, tenantfair.ErrDLQNotFound) {
		t.Fatalf("unknown replay err = %v, want ErrDLQNotFound", err)
	}

	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("replay must stamp ReplayedAt")
	}
}

func TestArchive_PurgeAndCount(t *testing.T) {
	s := setupArchive(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.PushDLQ(ctx, newEntry("acme", now.Add(-48*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.PushDLQ(ctx, newEntry("acme", now)); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PurgeDLQ(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("purged %d, want 1", removed)
	}
	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
