/*
Package sqlite provides the SQLite-backed implementation of leave.TxStore.

PURPOSE:
  Production persistence for the leave engine. The same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

VERSIONED WRITES:
  Applications and balances carry a version column. Updates are issued as

    UPDATE ... SET version = version + 1 WHERE id = ? AND version = ?

  A zero row count means a concurrent writer got there first; the store
  reports leave.ErrVersionConflict and the core retries against fresh
  state. Combined with single-transaction operations this serializes all
  mutations on the same application or balance key.

HISTORY:
  The history table is append-only. No UPDATE or DELETE statements exist
  for it anywhere in this package.

WAL MODE:
  SQLite is opened with WAL plus a busy timeout, so readers don't block
  and a briefly contended writer waits instead of failing.

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  wf := leave.NewWorkflow(store, logger)

SEE ALSO:
  - leave/store.go: Interface contracts
  - leave/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/atlashr/leave-engine/leave"
)

// Store implements leave.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ leave.TxStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		max_days TEXT,
		fixed_allocation INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		department TEXT NOT NULL,
		applicant_role TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days TEXT NOT NULL,
		reason TEXT,
		status TEXT NOT NULL,
		hod_approved_by TEXT,
		hod_approved_at TEXT,
		principal_approved_by TEXT,
		principal_approved_at TEXT,
		rejected_by TEXT,
		rejected_at TEXT,
		rejection_reason TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_applications_user
		ON applications(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_applications_status
		ON applications(status, created_at ASC);

	CREATE TABLE IF NOT EXISTS balances (
		user_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		year INTEGER NOT NULL,
		days TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, leave_type_id, year)
	);

	-- Append-only audit trail. No UPDATE/DELETE in this package.
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		application_id TEXT,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		previous_status TEXT,
		new_status TEXT,
		comments TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_application
		ON history(application_id, created_at ASC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the row-level helpers work both
// inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (leave.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Any error rolls the
// whole transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store calls through the open transaction.
type txStore struct {
	q dbtx
}

var _ leave.Store = (*txStore)(nil)

func (t *txStore) GetLeaveType(ctx context.Context, id string) (*leave.Type, error) {
	return getLeaveType(ctx, t.q, id)
}
func (t *txStore) ListLeaveTypes(ctx context.Context) ([]leave.Type, error) {
	return listLeaveTypes(ctx, t.q)
}
func (t *txStore) SaveLeaveType(ctx context.Context, typ *leave.Type) error {
	return saveLeaveType(ctx, t.q, typ)
}
func (t *txStore) CreateApplication(ctx context.Context, app *leave.Application) error {
	return createApplication(ctx, t.q, app)
}
func (t *txStore) GetApplication(ctx context.Context, id string) (*leave.Application, error) {
	return getApplication(ctx, t.q, id)
}
func (t *txStore) SaveApplication(ctx context.Context, app *leave.Application) error {
	return saveApplication(ctx, t.q, app)
}
func (t *txStore) ListApplicationsByUser(ctx context.Context, userID string) ([]leave.Application, error) {
	return listApplications(ctx, t.q, byUserQuery, userID)
}
func (t *txStore) ListApplicationsByStatus(ctx context.Context, status leave.Status) ([]leave.Application, error) {
	return listApplications(ctx, t.q, byStatusQuery, string(status))
}
func (t *txStore) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	return getBalance(ctx, t.q, key)
}
func (t *txStore) CreateBalance(ctx context.Context, b *leave.Balance) error {
	return createBalance(ctx, t.q, b)
}
func (t *txStore) SaveBalance(ctx context.Context, b *leave.Balance) error {
	return saveBalance(ctx, t.q, b)
}
func (t *txStore) AppendHistory(ctx context.Context, entry leave.HistoryEntry) error {
	return appendHistory(ctx, t.q, entry)
}
func (t *txStore) HistoryByApplication(ctx context.Context, applicationID string) ([]leave.HistoryEntry, error) {
	return historyByApplication(ctx, t.q, applicationID)
}

// =============================================================================
// DIRECT ACCESS (leave.Store on the root connection)
// =============================================================================

func (s *Store) GetLeaveType(ctx context.Context, id string) (*leave.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLeaveType(ctx, s.db, id)
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.Type, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLeaveTypes(ctx, s.db)
}

func (s *Store) SaveLeaveType(ctx context.Context, typ *leave.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLeaveType(ctx, s.db, typ)
}

func (s *Store) CreateApplication(ctx context.Context, app *leave.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createApplication(ctx, s.db, app)
}

func (s *Store) GetApplication(ctx context.Context, id string) (*leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getApplication(ctx, s.db, id)
}

func (s *Store) SaveApplication(ctx context.Context, app *leave.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveApplication(ctx, s.db, app)
}

func (s *Store) ListApplicationsByUser(ctx context.Context, userID string) ([]leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listApplications(ctx, s.db, byUserQuery, userID)
}

func (s *Store) ListApplicationsByStatus(ctx context.Context, status leave.Status) ([]leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listApplications(ctx, s.db, byStatusQuery, string(status))
}

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (*leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, key)
}

func (s *Store) CreateBalance(ctx context.Context, b *leave.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createBalance(ctx, s.db, b)
}

func (s *Store) SaveBalance(ctx context.Context, b *leave.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalance(ctx, s.db, b)
}

func (s *Store) AppendHistory(ctx context.Context, entry leave.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendHistory(ctx, s.db, entry)
}

func (s *Store) HistoryByApplication(ctx context.Context, applicationID string) ([]leave.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return historyByApplication(ctx, s.db, applicationID)
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

func getLeaveType(ctx context.Context, q dbtx, id string) (*leave.Type, error) {
	var (
		typ       leave.Type
		maxDays   sql.NullString
		fixed     int
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, max_days, fixed_allocation, created_at FROM leave_types WHERE id = ?",
		id,
	).Scan(&typ.ID, &typ.Name, &maxDays, &fixed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, leave.ErrLeaveTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load leave type: %w", err)
	}

	if maxDays.Valid {
		d, err := decimal.NewFromString(maxDays.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt max_days for leave type %s: %w", id, err)
		}
		typ.MaxDays = &d
	}
	typ.FixedAllocation = fixed != 0
	typ.CreatedAt = parseTime(createdAt)
	return &typ, nil
}

func listLeaveTypes(ctx context.Context, q dbtx) ([]leave.Type, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, max_days, fixed_allocation, created_at FROM leave_types ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []leave.Type
	for rows.Next() {
		var (
			typ       leave.Type
			maxDays   sql.NullString
			fixed     int
			createdAt string
		)
		if err := rows.Scan(&typ.ID, &typ.Name, &maxDays, &fixed, &createdAt); err != nil {
			return nil, err
		}
		if maxDays.Valid {
			d, err := decimal.NewFromString(maxDays.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt max_days for leave type %s: %w", typ.ID, err)
			}
			typ.MaxDays = &d
		}
		typ.FixedAllocation = fixed != 0
		typ.CreatedAt = parseTime(createdAt)
		types = append(types, typ)
	}
	return types, rows.Err()
}

func saveLeaveType(ctx context.Context, q dbtx, typ *leave.Type) error {
	if typ.CreatedAt.IsZero() {
		typ.CreatedAt = time.Now().UTC()
	}
	var maxDays any
	if typ.MaxDays != nil {
		maxDays = typ.MaxDays.String()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_types (id, name, max_days, fixed_allocation, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			max_days = excluded.max_days,
			fixed_allocation = excluded.fixed_allocation
	`, typ.ID, typ.Name, maxDays, boolInt(typ.FixedAllocation), formatTime(typ.CreatedAt))
	return err
}

// =============================================================================
// APPLICATIONS
// =============================================================================

const applicationColumns = `id, user_id, leave_type_id, department, applicant_role,
	start_date, end_date, days, reason, status,
	hod_approved_by, hod_approved_at, principal_approved_by, principal_approved_at,
	rejected_by, rejected_at, rejection_reason, version, created_at, updated_at`

const (
	byUserQuery   = "SELECT " + applicationColumns + " FROM applications WHERE user_id = ? ORDER BY created_at DESC, id"
	byStatusQuery = "SELECT " + applicationColumns + " FROM applications WHERE status = ? ORDER BY created_at ASC, id"
)

func createApplication(ctx context.Context, q dbtx, app *leave.Application) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO applications
		(id, user_id, leave_type_id, department, applicant_role, start_date, end_date,
		 days, reason, status, rejection_reason, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`,
		app.ID, app.UserID, app.LeaveTypeID, app.Department, string(app.ApplicantRole),
		formatDate(app.StartDate), formatDate(app.EndDate),
		app.Days.String(), app.Reason, string(app.Status), app.RejectionReason,
		formatTime(app.CreatedAt), formatTime(app.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert application: %w", err)
	}
	app.Version = 0
	return nil
}

func getApplication(ctx context.Context, q dbtx, id string) (*leave.Application, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+applicationColumns+" FROM applications WHERE id = ?", id)
	app, err := scanApplication(row)
	if err == sql.ErrNoRows {
		return nil, leave.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	return app, nil
}

// saveApplication performs the optimistic-locked update. Zero rows affected
// means either the row vanished or a concurrent writer bumped the version.
func saveApplication(ctx context.Context, q dbtx, app *leave.Application) error {
	res, err := q.ExecContext(ctx, `
		UPDATE applications SET
			status = ?,
			hod_approved_by = ?, hod_approved_at = ?,
			principal_approved_by = ?, principal_approved_at = ?,
			rejected_by = ?, rejected_at = ?, rejection_reason = ?,
			updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		string(app.Status),
		nullIfEmpty(app.HODApprovedBy), formatTimePtr(app.HODApprovedAt),
		nullIfEmpty(app.PrincipalApprovedBy), formatTimePtr(app.PrincipalApprovedAt),
		nullIfEmpty(app.RejectedBy), formatTimePtr(app.RejectedAt), app.RejectionReason,
		formatTime(app.UpdatedAt),
		app.ID, app.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM applications WHERE id = ?", app.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return leave.ErrApplicationNotFound
		}
		return leave.ErrVersionConflict
	}
	app.Version++
	return nil
}

func listApplications(ctx context.Context, q dbtx, query string, arg any) ([]leave.Application, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	defer rows.Close()

	var apps []leave.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApplication(row scanner) (*leave.Application, error) {
	var (
		app                leave.Application
		role               string
		startDate, endDate string
		days               string
		reason             sql.NullString
		status             string
		hodBy, princBy     sql.NullString
		hodAt, princAt     sql.NullString
		rejBy, rejAt       sql.NullString
		rejReason          sql.NullString
		createdAt, updated string
	)
	err := row.Scan(
		&app.ID, &app.UserID, &app.LeaveTypeID, &app.Department, &role,
		&startDate, &endDate, &days, &reason, &status,
		&hodBy, &hodAt, &princBy, &princAt,
		&rejBy, &rejAt, &rejReason, &app.Version, &createdAt, &updated,
	)
	if err != nil {
		return nil, err
	}

	app.ApplicantRole = leave.Role(role)
	app.StartDate = parseDate(startDate)
	app.EndDate = parseDate(endDate)
	d, err := decimal.NewFromString(days)
	if err != nil {
		return nil, fmt.Errorf("corrupt days for application %s: %w", app.ID, err)
	}
	app.Days = d
	app.Reason = reason.String
	app.Status = leave.Status(status)
	app.HODApprovedBy = hodBy.String
	app.HODApprovedAt = parseTimePtr(hodAt)
	app.PrincipalApprovedBy = princBy.String
	app.PrincipalApprovedAt = parseTimePtr(princAt)
	app.RejectedBy = rejBy.String
	app.RejectedAt = parseTimePtr(rejAt)
	app.RejectionReason = rejReason.String
	app.CreatedAt = parseTime(createdAt)
	app.UpdatedAt = parseTime(updated)
	return &app, nil
}

// =============================================================================
// BALANCES
// =============================================================================

func getBalance(ctx context.Context, q dbtx, key leave.BalanceKey) (*leave.Balance, error) {
	var (
		b         leave.Balance
		days      string
		updatedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, leave_type_id, year, days, version, updated_at
		FROM balances WHERE user_id = ? AND leave_type_id = ? AND year = ?
	`, key.UserID, key.LeaveTypeID, key.Year).Scan(
		&b.UserID, &b.LeaveTypeID, &b.Year, &days, &b.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}

	d, err := decimal.NewFromString(days)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for %s/%s/%d: %w",
			key.UserID, key.LeaveTypeID, key.Year, err)
	}
	b.Days = d
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func createBalance(ctx context.Context, q dbtx, b *leave.Balance) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO balances (user_id, leave_type_id, year, days, version, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, b.UserID, b.LeaveTypeID, b.Year, b.Days.String(), formatTime(b.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			// Two transactions raced the lazy creation; the retry re-reads.
			return leave.ErrVersionConflict
		}
		return fmt.Errorf("failed to insert balance: %w", err)
	}
	b.Version = 0
	return nil
}

func saveBalance(ctx context.Context, q dbtx, b *leave.Balance) error {
	res, err := q.ExecContext(ctx, `
		UPDATE balances SET days = ?, updated_at = ?, version = version + 1
		WHERE user_id = ? AND leave_type_id = ? AND year = ? AND version = ?
	`, b.Days.String(), formatTime(b.UpdatedAt),
		b.UserID, b.LeaveTypeID, b.Year, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leave.ErrVersionConflict
	}
	b.Version++
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

func appendHistory(ctx context.Context, q dbtx, e leave.HistoryEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO history
		(id, application_id, action, actor_id, previous_status, new_status, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, nullIfEmpty(e.ApplicationID), string(e.Action), e.ActorID,
		nullIfEmpty(string(e.PreviousStatus)), nullIfEmpty(string(e.NewStatus)),
		e.Comments, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func historyByApplication(ctx context.Context, q dbtx, applicationID string) ([]leave.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, application_id, action, actor_id, previous_status, new_status, comments, created_at
		FROM history WHERE application_id = ?
		ORDER BY created_at ASC, id
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []leave.HistoryEntry
	for rows.Next() {
		var (
			e          leave.HistoryEntry
			appID      sql.NullString
			prev, next sql.NullString
			comments   sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &appID, &e.Action, &e.ActorID, &prev, &next, &comments, &createdAt); err != nil {
			return nil, err
		}
		e.ApplicationID = appID.String
		e.PreviousStatus = leave.Status(prev.String)
		e.NewStatus = leave.Status(next.String)
		e.Comments = comments.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
func formatDate(t time.Time) string { return t.Format("2006-01-02") }

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
