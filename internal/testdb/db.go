package testdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/pdfscan/internal/ciutil"
	"github.com/phrazzld/pdfscan/internal/platform/postgres"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// TestTimeout bounds setup operations.
	TestTimeout = 60 * time.Second

	postgresImage = "postgres:16-alpine"
	testUser      = "scanner"
	testPassword  = "scanner"
	testName      = "scanner_test"
)

var (
	once      sync.Once
	shared    *sql.DB
	sharedURL string
	setupErr  error
)

// GetTestDatabaseURL returns SCANNER_TEST_DATABASE_URL or DATABASE_URL,
// or an empty string.
func GetTestDatabaseURL() string {
	return ciutil.TestDatabaseURL(nil)
}

// Open returns the shared, migrated test database, skipping the test when
// no database can be provided. Callers should Reset between tests that
// depend on table contents.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	once.Do(func() {
		sharedURL, setupErr = databaseURL()
		if setupErr != nil {
			return
		}
		shared, setupErr = openAndMigrate(sharedURL)
	})
	if setupErr != nil {
		if ciutil.IsCI() {
			t.Fatalf("test database required in CI: %v", setupErr)
		}
		t.Skipf("no test database available: %v", setupErr)
	}
	return shared
}

// URL returns the connection string of the shared test database.
func URL(t *testing.T) string {
	t.Helper()
	Open(t)
	return sharedURL
}

// Reset removes every task and zeroes the counters.
func Reset(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, `TRUNCATE tasks`); err != nil {
		t.Fatalf("failed to truncate tasks: %v", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE metrics SET value = 0`); err != nil {
		t.Fatalf("failed to reset metrics: %v", err)
	}
}

func databaseURL() (string, error) {
	if url := GetTestDatabaseURL(); url != "" {
		return url, nil
	}
	return startContainer()
}

func startContainer() (url string, err error) {
	// testcontainers panics when no docker host can be found.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to start container: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
			"POSTGRES_DB":       testName,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(TestTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testUser, testPassword, host, port.Port(), testName), nil
}

func openAndMigrate(url string) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := postgres.Open(ctx, url, 20, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db, "up", logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
