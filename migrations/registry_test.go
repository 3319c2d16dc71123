package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	fulfillment "github.com/goliatone/go-fulfillment"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}
	dialects := map[string]string{}
	for _, entry := range filesystems {
		dialects[entry.Dialect] = entry.Path
	}
	if dialects[DialectPostgres] != "data/sql/migrations" {
		t.Fatalf("unexpected postgres path %q", dialects[DialectPostgres])
	}
	if dialects[DialectSQLite] != "data/sql/migrations/sqlite" {
		t.Fatalf("unexpected sqlite path %q", dialects[DialectSQLite])
	}
}

func TestFilesystems_RejectsUnpairedMigrations(t *testing.T) {
	source := fstest.MapFS{
		"data/sql/migrations/00001_a.up.sql":          {Data: []byte("SELECT 1;")},
		"data/sql/migrations/00001_a.down.sql":        {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00002_b.up.sql":   {Data: []byte("SELECT 1;")},
		"data/sql/migrations/sqlite/00001_a.down.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := Filesystems(source); err == nil || !strings.Contains(err.Error(), "2 up and 1 down") {
		t.Fatalf("expected unpaired migration error, got %v", err)
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	reg, err := Register(context.Background(), func(_ context.Context, dialect string, label string, _ fs.FS) error {
		calls = append(calls, dialect+":"+label)
		return nil
	}, WithValidationTargets(" SQLite "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != "sqlite:go-fulfillment" {
		t.Fatalf("expected one sqlite registration, got %v", calls)
	}
	if len(reg.Filesystems) != 2 {
		t.Fatalf("expected both filesystems on the registration, got %d", len(reg.Filesystems))
	}
}

func TestRegister_PropagatesRegisterErrors(t *testing.T) {
	boom := errors.New("duplicate migration")
	_, err := Register(context.Background(), func(context.Context, string, string, fs.FS) error {
		return boom
	}, WithDialectSourceLabel("checkout"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function error")
	}
}

func TestDialectForDriver(t *testing.T) {
	cases := map[string]string{
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"sqlite3":  DialectSQLite,
		" SQLite ": DialectSQLite,
	}
	for driver, want := range cases {
		got, err := DialectForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %q: expected %q, got %q (%v)", driver, want, got, err)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := fulfillment.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_fulfillment_schema.up.sql",
		"data/sql/migrations/00001_fulfillment_schema.down.sql",
		"data/sql/migrations/sqlite/00001_fulfillment_schema.up.sql",
		"data/sql/migrations/sqlite/00001_fulfillment_schema.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		body := string(content)
		if strings.TrimSpace(body) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
		for _, table := range Tables {
			if !strings.Contains(body, table) {
				t.Fatalf("expected migration %s to reference %s", migrationPath, table)
			}
		}
	}
}

func TestSQLiteSchemaMigration_ApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := sql.Open("sqlite3", "file:migrations-fulfillment-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(fulfillment.GetCoreMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := Verify(ctx, db, DialectSQLite); err == nil {
		t.Fatalf("expected empty database to fail verification")
	}
	if err := execSQLMigration(ctx, sqlDB, sqliteMigrations, "00001_fulfillment_schema.up.sql"); err != nil {
		t.Fatalf("apply schema up: %v", err)
	}
	if err := Verify(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("verify after up: %v", err)
	}

	if _, err := sqlDB.ExecContext(ctx, `INSERT INTO fulfillment_orders (id, order_number, amount_cents, currency, status) VALUES (?, ?, ?, ?, ?)`,
		"O1", "ORD-1-AAAA", 4900, "usd", "PENDING_PAYMENT"); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if _, err := sqlDB.ExecContext(ctx, `INSERT INTO fulfillment_orders (id, order_number, amount_cents, currency, status) VALUES (?, ?, ?, ?, ?)`,
		"O2", "ORD-2-BBBB", 4900, "usd", "SHIPPING"); err == nil {
		t.Fatalf("expected status check constraint to reject unknown status")
	}
	if _, err := sqlDB.ExecContext(ctx, `INSERT INTO fulfillment_order_items (id, order_id, product_id, product_type, title, unit_price_cents, quantity, total_price_cents) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"I1", "O1", "prod-ebook", "DIGITAL", "Field Guide", 2500, 2, 4900); err == nil {
		t.Fatalf("expected item total check constraint to reject mismatched total")
	}

	insertEvent := `INSERT INTO fulfillment_webhook_events (id, provider, external_event_id, event_type, event_kind, outcome) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := sqlDB.ExecContext(ctx, insertEvent, "E1", "stripe", "evt_1", "checkout.session.completed", "checkout.completed", "pending"); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if _, err := sqlDB.ExecContext(ctx, insertEvent, "E2", "stripe", "evt_1", "checkout.session.completed", "checkout.completed", "pending"); err == nil {
		t.Fatalf("expected unique violation for replayed external event id")
	}

	if err := execSQLMigration(ctx, sqlDB, sqliteMigrations, "00001_fulfillment_schema.down.sql"); err != nil {
		t.Fatalf("apply schema down: %v", err)
	}
	var count int
	if err := sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name LIKE 'fulfillment_%'`).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected fulfillment tables to be dropped, found %d", count)
	}
}

func TestSQLiteLeaseMigration_AddsAndDropsClaimedUntil(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := sql.Open("sqlite3", "file:migrations-fulfillment-lease?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	defer func() { _ = sqlDB.Close() }()

	sqliteMigrations, err := fs.Sub(fulfillment.GetCoreMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	for _, name := range []string{"00001_fulfillment_schema.up.sql", "00002_notification_lease.up.sql"} {
		if err := execSQLMigration(ctx, sqlDB, sqliteMigrations, name); err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
	}
	if got := outboxColumnCount(t, sqlDB, "claimed_until"); got != 1 {
		t.Fatalf("expected claimed_until column after up, got %d", got)
	}
	if err := execSQLMigration(ctx, sqlDB, sqliteMigrations, "00002_notification_lease.down.sql"); err != nil {
		t.Fatalf("apply lease down: %v", err)
	}
	if got := outboxColumnCount(t, sqlDB, "claimed_until"); got != 0 {
		t.Fatalf("expected claimed_until column dropped, got %d", got)
	}
}

func outboxColumnCount(t *testing.T, db *sql.DB, column string) int {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('fulfillment_notification_outbox') WHERE name = ?`, column).Scan(&count)
	if err != nil {
		t.Fatalf("inspect outbox columns: %v", err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
