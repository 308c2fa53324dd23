//go:build e2e

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fuel",
			"POSTGRES_PASSWORD": "fuel",
			"POSTGRES_DB":       "fuel",
		},
		// The server logs readiness twice: once for the init run and once for the real start.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	return fmt.Sprintf("postgres://fuel:fuel@%s:%s/fuel?sslmode=disable", host, port.Port())
}

func TestPostgresOutbox(t *testing.T) {
	db, err := New(startPostgres(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.now = func() time.Time { return observed.Add(time.Minute) }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := db.Notify(ctx, testChangeSet()); err != nil {
			t.Fatalf("Notify() #%d = %v", i, err)
		}
	}

	count, err := db.GetTotalChangesCount(ctx)
	if err != nil {
		t.Fatalf("GetTotalChangesCount() = %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d; want 2", count)
	}

	changes, err := db.ListRecentChanges(ctx, 63, 10)
	if err != nil {
		t.Fatalf("ListRecentChanges() = %v", err)
	}
	if len(changes) != 1 || changes[0].FuelType != "E10" {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].PriceNew.String() != "152.9" || !changes[0].LastUpdated.Equal(observed) {
		t.Errorf("change = %+v", changes[0])
	}
}
