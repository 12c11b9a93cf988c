package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/database"
)

// PostgresImage is the PostgreSQL image integration tests run against.
const PostgresImage = "postgres:16-alpine"

const (
	adminUser     = "ekaya"
	adminPassword = "test_password"

	// The application role is not a superuser so row level security applies to it.
	appRole     = "ledger_app"
	appPassword = "ledger_password"
	ledgerDB    = "ekaya_ledger_test"
)

// TestDB holds a shared test database container and a superuser connection pool.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "postgres",
			"POSTGRES_USER":     adminUser,
			"POSTGRES_PASSWORD": adminPassword,
		},
		// The entrypoint restarts the server once after init scripts.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := ConnString(ctx, container, adminUser, adminPassword, "postgres")
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ping test database: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}

// ConnString builds a connection string for a database inside the test container.
func ConnString(ctx context.Context, container testcontainers.Container, user, password, dbName string) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, password, host, port.Port(), dbName), nil
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// LedgerDB holds the ledger database with migrations applied.
// DB connects as the non-superuser application role, so RLS policies are enforced.
// Admin connects as a superuser for fixtures and cleanup that must bypass RLS.
type LedgerDB struct {
	DB      *database.DB
	Admin   *pgxpool.Pool
	ConnStr string
}

var (
	sharedLedgerDB     *LedgerDB
	sharedLedgerDBOnce sync.Once
	sharedLedgerDBErr  error
)

// GetLedgerDB returns a shared ledger database for integration tests.
// The database has migrations applied and is reused across all tests.
func GetLedgerDB(t *testing.T) *LedgerDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	testDB := GetTestDB(t)

	sharedLedgerDBOnce.Do(func() {
		sharedLedgerDB, sharedLedgerDBErr = setupLedgerDB(testDB)
	})

	if sharedLedgerDBErr != nil {
		t.Fatalf("Failed to setup ledger database: %v", sharedLedgerDBErr)
	}

	return sharedLedgerDB
}

func setupLedgerDB(testDB *TestDB) (*LedgerDB, error) {
	ctx := context.Background()

	stmts := []string{
		"DROP DATABASE IF EXISTS " + ledgerDB,
		"DROP ROLE IF EXISTS " + appRole,
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s' NOSUPERUSER", appRole, appPassword),
		fmt.Sprintf("CREATE DATABASE %s OWNER %s", ledgerDB, appRole),
	}
	for _, stmt := range stmts {
		if _, err := testDB.Pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare ledger database (%s): %w", stmt, err)
		}
	}

	appConnStr, err := ConnString(ctx, testDB.Container, appRole, appPassword, ledgerDB)
	if err != nil {
		return nil, err
	}
	adminConnStr, err := ConnString(ctx, testDB.Container, adminUser, adminPassword, ledgerDB)
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            appConnStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	// Run migrations using database/sql (required by golang-migrate)
	sqlDB := db.SQLDB()
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, MigrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	admin, err := pgxpool.New(ctx, adminConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create admin pool: %w", err)
	}

	return &LedgerDB{
		DB:      db,
		Admin:   admin,
		ConnStr: appConnStr,
	}, nil
}

// UserContext returns a context carrying a user scope for userID.
// The scope is released when the test finishes.
func (l *LedgerDB) UserContext(t *testing.T, userID string) context.Context {
	t.Helper()
	ctx := context.Background()
	scope, err := l.DB.WithUser(ctx, userID)
	if err != nil {
		t.Fatalf("failed to create user scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return database.SetUserScope(ctx, scope)
}

// CleanupUser removes every row owned by userID, bypassing RLS.
func (l *LedgerDB) CleanupUser(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{"ai_call", "event", "event_raw", "category", "app_user"} {
		column := "user_id"
		if table == "app_user" {
			column = "id"
		}
		if _, err := l.Admin.Exec(ctx, "DELETE FROM "+table+" WHERE "+column+" = $1", userID); err != nil {
			t.Fatalf("failed to clean %s: %v", table, err)
		}
	}
}
