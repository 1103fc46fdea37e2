package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pevans/psahunter/certs"
)

// Custom errors for store operations
var (
	ErrCertNotFound = errors.New("cert not found")
	ErrUnknownKind  = errors.New("store type must be sqlite or postgres")
)

// Kind selects the database backend.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// Store persists validated certificates and run history.
type Store struct {
	db   *sql.DB
	kind Kind
}

// Cert is a stored certificate: the validated record plus bookkeeping.
type Cert struct {
	certs.Record
	Description   string
	HTTPStatus    int
	ServerMessage sql.NullString
	PayloadJSON   string
	UpdatedAt     time.Time
}

// bookkeeping columns follow the record columns in every statement.
var bookkeeping = []string{"description", "http_status", "server_message", "payload_json", "updated_at"}

// Open connects to the database and ensures the schema. kind is "sqlite"
// (dsn is a file path) or "postgres" (dsn is a connection URL).
func Open(ctx context.Context, kind, dsn string) (*Store, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	if k == "" {
		k = KindSQLite
	}

	var driver string
	switch k {
	case KindSQLite:
		driver = "sqlite3"
	case KindPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if k == KindSQLite {
		// one writer; avoids "database is locked" between pooled connections
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, kind: k}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Kind returns the backend in use.
func (s *Store) Kind() Kind {
	return s.kind
}

// EnsureSchema creates the tables and the updated_at index if they do not
// exist yet. Safe to call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema(s.kind) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func schema(kind Kind) []string {
	integer, small := "INTEGER", "INTEGER"
	if kind == KindPostgres {
		integer, small = "BIGINT", "SMALLINT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS psa_certs (
			cert_number TEXT PRIMARY KEY,
			spec_id ` + integer + `,
			spec_number TEXT,
			label_type TEXT,
			reverse_barcode ` + small + `,
			year ` + integer + `,
			brand TEXT,
			category TEXT,
			card_number TEXT,
			subject TEXT,
			variety TEXT,
			is_psadna ` + small + `,
			is_dual_cert ` + small + `,
			grade_description TEXT,
			card_grade TEXT,
			total_population ` + integer + `,
			total_population_with_qualifier ` + integer + `,
			population_higher ` + integer + `,
			description TEXT,
			http_status ` + integer + `,
			server_message TEXT,
			payload_json TEXT,
			updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updated_at ON psa_certs(updated_at)`,
		`CREATE TABLE IF NOT EXISTS psa_runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			urls_added ` + integer + ` DEFAULT 0,
			certs_added ` + integer + ` DEFAULT 0,
			saved ` + integer + ` DEFAULT 0,
			ignored ` + integer + ` DEFAULT 0,
			api_calls ` + integer + ` DEFAULT 0
		)`,
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Has reports whether cert is already stored.
func (s *Store) Has(ctx context.Context, cert string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT 1 FROM psa_certs WHERE cert_number = ? LIMIT 1"), cert).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query cert: %w", err)
	}
	return true, nil
}

// Upsert inserts c, or overwrites every non-key column of the existing row
// with the same cert number. It is a single statement.
func (s *Store) Upsert(ctx context.Context, c Cert) error {
	cols := c.Columns()
	names := make([]string, 0, len(cols)+len(bookkeeping))
	args := make([]any, 0, len(cols)+len(bookkeeping))
	for _, col := range cols {
		names = append(names, col.Name)
		args = append(args, col.Value)
	}
	names = append(names, bookkeeping...)
	args = append(args,
		c.Description,
		c.HTTPStatus,
		c.ServerMessage,
		c.PayloadJSON,
		formatTime(c.UpdatedAt),
	)

	updates := make([]string, 0, len(names)-1)
	for _, n := range names[1:] {
		updates = append(updates, n+" = excluded."+n)
	}

	query := "INSERT INTO psa_certs (" + strings.Join(names, ", ") + ")" +
		" VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")" +
		" ON CONFLICT (cert_number) DO UPDATE SET " + strings.Join(updates, ", ")

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to upsert cert %s: %w", c.CertNumber, err)
	}
	return nil
}

// Get retrieves a stored cert.
func (s *Store) Get(ctx context.Context, cert string) (*Cert, error) {
	var c Cert
	names := make([]string, 0, 23)
	for _, col := range c.Columns() {
		names = append(names, col.Name)
	}
	names = append(names, bookkeeping...)

	var (
		description, serverMessage, payload, updatedAt sql.NullString
		httpStatus                                     sql.NullInt64
	)
	targets := append(c.ScanTargets(), &description, &httpStatus, &serverMessage, &payload, &updatedAt)

	query := "SELECT " + strings.Join(names, ", ") + " FROM psa_certs WHERE cert_number = ?"
	err := s.db.QueryRowContext(ctx, s.rebind(query), cert).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cert: %w", err)
	}

	c.Description = description.String
	c.HTTPStatus = int(httpStatus.Int64)
	c.ServerMessage = serverMessage
	c.PayloadJSON = payload.String
	if t, ok := parseTime(updatedAt); ok {
		c.UpdatedAt = t
	}

	return &c, nil
}

// Count returns the number of stored certs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM psa_certs").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count certs: %w", err)
	}
	return n, nil
}

// rebind rewrites '?' placeholders to '$n' for postgres.
func (s *Store) rebind(query string) string {
	if s.kind != KindPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatTime renders timestamps as RFC3339 UTC text.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s sql.NullString) (time.Time, bool) {
	if !s.Valid || s.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
