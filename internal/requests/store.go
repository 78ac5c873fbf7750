package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

// Store persists users, requests and comments.
type Store interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	CreateRequest(ctx context.Context, rq *Request) error
	UpdateRequest(ctx context.Context, rq *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	LatestRequestBy(ctx context.Context, requesterID int64) (*Request, error)
	ListRequests(ctx context.Context, opts ListOptions) ([]ListItem, error)
	AddComment(ctx context.Context, c *Comment) error
	Comments(ctx context.Context, requestID string) ([]CommentView, error)
	Close() error
}

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultSQLitePath  = "strainboard.db"
	defaultPostgresDSN = "postgres://localhost/strainboard?sslmode=disable"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore implements Store on database/sql for SQLite and Postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

var _ Store = (*SQLStore)(nil)

// Open connects to the configured database and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
		pg  bool
	)
	switch driver {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, fmt.Errorf("create dirs: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer keeps sqlite from reporting SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		if dsn == "" {
			dsn = defaultPostgresDSN
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pg = true
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	s := &SQLStore{db: db, postgres: pg}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id ` + serial + `,
			social_id TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			member INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			requester_id BIGINT NOT NULL REFERENCES users(id),
			shipper_id BIGINT REFERENCES users(id),
			strain_lab TEXT NOT NULL,
			strain_entry TEXT NOT NULL,
			organism TEXT NOT NULL DEFAULT '',
			strain TEXT NOT NULL DEFAULT '',
			plasmid TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			delivery_address TEXT NOT NULL DEFAULT '',
			preferred_email TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS requests_requester_idx ON requests (requester_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id ` + serial + `,
			request_id TEXT NOT NULL REFERENCES requests(id),
			commenter_id BIGINT NOT NULL REFERENCES users(id),
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullID(id int64) sql.NullInt64 { return sql.NullInt64{Int64: id, Valid: id != 0} }

func (s *SQLStore) UpsertUser(ctx context.Context, u *User) error {
	q := s.rebind(`INSERT INTO users (social_id, display_name, email, member, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (social_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			member = excluded.member,
			last_seen = excluded.last_seen
		RETURNING id`)
	if err := s.db.QueryRowContext(ctx, q, u.SocialID, u.DisplayName, u.Email, boolInt(u.Member), formatTime(u.LastSeen)).Scan(&u.ID); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	q := s.rebind(`SELECT id, social_id, display_name, email, member, last_seen FROM users WHERE id = ?`)
	var (
		u      User
		member int
		seen   string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.SocialID, &u.DisplayName, &u.Email, &member, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Member = member != 0
	u.LastSeen = parseTime(seen)
	return &u, nil
}

const requestColumns = `id, requester_id, shipper_id, strain_lab, strain_entry, organism, strain, plasmid,
	created_at, status, active, delivery_address, preferred_email`

func (s *SQLStore) CreateRequest(ctx context.Context, rq *Request) error {
	q := s.rebind(`INSERT INTO requests (` + requestColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		rq.ID, rq.RequesterID, nullID(rq.ShipperID), rq.StrainLab, rq.StrainEntry,
		rq.Organism, rq.Strain, rq.Plasmid, formatTime(rq.CreatedAt), string(rq.Status),
		boolInt(rq.Active), rq.DeliveryAddress, rq.PreferredEmail)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateRequest(ctx context.Context, rq *Request) error {
	q := s.rebind(`UPDATE requests SET shipper_id = ?, status = ?, active = ?, delivery_address = ?, preferred_email = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, q, nullID(rq.ShipperID), string(rq.Status), boolInt(rq.Active),
		rq.DeliveryAddress, rq.PreferredEmail, rq.ID)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("request %s: %w", rq.ID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(sc rowScanner) (*Request, error) {
	var (
		rq      Request
		shipper sql.NullInt64
		created string
		status  string
		active  int
	)
	if err := sc.Scan(&rq.ID, &rq.RequesterID, &shipper, &rq.StrainLab, &rq.StrainEntry, &rq.Organism,
		&rq.Strain, &rq.Plasmid, &created, &status, &active, &rq.DeliveryAddress, &rq.PreferredEmail); err != nil {
		return nil, err
	}
	rq.ShipperID = shipper.Int64
	rq.CreatedAt = parseTime(created)
	rq.Status = Status(status)
	rq.Active = active != 0
	return &rq, nil
}

func (s *SQLStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	q := s.rebind(`SELECT ` + requestColumns + ` FROM requests WHERE id = ?`)
	rq, err := scanRequest(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return rq, nil
}

func (s *SQLStore) LatestRequestBy(ctx context.Context, requesterID int64) (*Request, error) {
	q := s.rebind(`SELECT ` + requestColumns + ` FROM requests WHERE requester_id = ? ORDER BY created_at DESC LIMIT 1`)
	rq, err := scanRequest(s.db.QueryRowContext(ctx, q, requesterID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("requests by %d: %w", requesterID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest request: %w", err)
	}
	return rq, nil
}

func (s *SQLStore) ListRequests(ctx context.Context, opts ListOptions) ([]ListItem, error) {
	q := `SELECT r.id, r.strain_lab, r.strain_entry, r.created_at, r.status, r.active,
			u.display_name, COALESCE(sh.display_name, ''), r.organism, r.strain, r.plasmid
		FROM requests r
		JOIN users u ON u.id = r.requester_id
		LEFT JOIN users sh ON sh.id = r.shipper_id`
	var (
		where []string
		args  []any
	)
	if opts.ActiveOnly {
		where = append(where, "r.active = 1")
	}
	if opts.RequesterID != 0 {
		where = append(where, "r.requester_id = ?")
		args = append(args, opts.RequesterID)
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY r.created_at DESC"
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []ListItem
	for rows.Next() {
		var (
			it         ListItem
			lab, entry string
			created    string
			status     string
			active     int
		)
		if err := rows.Scan(&it.ID, &lab, &entry, &created, &status, &active,
			&it.Requester, &it.Shipper, &it.Organism, &it.Strain, &it.Plasmid); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		it.StrainID = lab + "_" + entry
		it.CreatedAt = parseTime(created)
		it.Status = Status(status)
		it.Active = active != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddComment(ctx context.Context, c *Comment) error {
	q := s.rebind(`INSERT INTO comments (request_id, commenter_id, body, created_at) VALUES (?, ?, ?, ?) RETURNING id`)
	if err := s.db.QueryRowContext(ctx, q, c.RequestID, c.CommenterID, c.Body, formatTime(c.CreatedAt)).Scan(&c.ID); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *SQLStore) Comments(ctx context.Context, requestID string) ([]CommentView, error) {
	q := s.rebind(`SELECT c.id, c.request_id, c.commenter_id, c.body, c.created_at, u.display_name
		FROM comments c JOIN users u ON u.id = c.commenter_id
		WHERE c.request_id = ? ORDER BY c.created_at, c.id`)
	rows, err := s.db.QueryContext(ctx, q, requestID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []CommentView
	for rows.Next() {
		var (
			cv      CommentView
			created string
		)
		if err := rows.Scan(&cv.ID, &cv.RequestID, &cv.CommenterID, &cv.Body, &created, &cv.Commenter); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		cv.CreatedAt = parseTime(created)
		out = append(out, cv)
	}
	return out, rows.Err()
}
