package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core/attendance"
)

const uniqueViolation = pq.ErrorCode("23505")

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sql.DB) *attendanceRepository {
	return &attendanceRepository{db: sqlx.NewDb(db, "postgres")}
}

type sessionRow struct {
	ID            string         `db:"id"`
	ClassID       string         `db:"class_id"`
	SlotID        int            `db:"slot_id"`
	Day           time.Time      `db:"day"`
	Modes         pq.StringArray `db:"modes"`
	Status        string         `db:"status"`
	Code          null.String    `db:"code"`
	ExpiresAt     null.Time      `db:"expires_at"`
	Attempts      int            `db:"attempts"`
	MaxAttempts   int            `db:"max_attempts"`
	TotalStudents int            `db:"total_students"`
	CreatedBy     string         `db:"created_by"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	EndedAt       null.Time      `db:"ended_at"`
}

type recordRow struct {
	ID         string      `db:"id"`
	SessionID  string      `db:"session_id"`
	StudentID  string      `db:"student_id"`
	Status     string      `db:"status"`
	RecordedAt null.Time   `db:"recorded_at"`
	Note       null.String `db:"note"`
	ModifiedAt time.Time   `db:"modified_at"`
	ModifiedBy null.String `db:"modified_by"`
}

const sessionColumns = `id, class_id, slot_id, day, modes, status, code, expires_at,
	attempts, max_attempts, total_students, created_by, created_at, updated_at, ended_at`

const recordColumns = `id, session_id, student_id, status, recorded_at, note, modified_at, modified_by`

func (repo attendanceRepository) row(sess attendance.Session) sessionRow {
	return sessionRow{
		ID:            sess.ID,
		ClassID:       sess.ClassID,
		SlotID:        sess.SlotID,
		Day:           sess.Day.Time(time.UTC),
		Modes:         pq.StringArray(sess.Modes.Strings()),
		Status:        string(sess.Status),
		Code:          null.NewString(sess.Code, sess.Code != ""),
		ExpiresAt:     null.NewTime(sess.ExpiresAt.UTC(), !sess.ExpiresAt.IsZero()),
		Attempts:      sess.Attempts,
		MaxAttempts:   sess.MaxAttempts,
		TotalStudents: sess.TotalStudents,
		CreatedBy:     sess.CreatedBy,
		CreatedAt:     sess.CreatedAt.UTC(),
		UpdatedAt:     sess.UpdatedAt.UTC(),
		EndedAt:       null.NewTime(sess.EndedAt.UTC(), !sess.EndedAt.IsZero()),
	}
}

func (repo attendanceRepository) unrow(row sessionRow) (attendance.Session, error) {
	modes, err := attendance.ParseModeSet([]string(row.Modes))
	if err != nil {
		return attendance.Session{}, errors.Wrapf(err, "session %s", row.ID)
	}
	return attendance.Session{
		ID:            row.ID,
		ClassID:       row.ClassID,
		SlotID:        row.SlotID,
		Day:           attendance.DayFromTime(row.Day.UTC()),
		Modes:         modes,
		Status:        attendance.Status(row.Status),
		Code:          row.Code.String,
		ExpiresAt:     row.ExpiresAt.Time,
		Attempts:      row.Attempts,
		MaxAttempts:   row.MaxAttempts,
		TotalStudents: row.TotalStudents,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		EndedAt:       row.EndedAt.Time,
	}, nil
}

func (repo attendanceRepository) unrowSlice(rows []sessionRow) ([]attendance.Session, error) {
	sessions := make([]attendance.Session, 0, len(rows))
	for _, row := range rows {
		sess, err := repo.unrow(row)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (repo attendanceRepository) recRow(rec attendance.Record) recordRow {
	return recordRow{
		ID:         rec.ID,
		SessionID:  rec.SessionID,
		StudentID:  rec.StudentID,
		Status:     string(rec.Status),
		RecordedAt: null.NewTime(rec.RecordedAt.UTC(), !rec.RecordedAt.IsZero()),
		Note:       null.NewString(rec.Note, rec.Note != ""),
		ModifiedAt: rec.ModifiedAt.UTC(),
		ModifiedBy: null.NewString(rec.ModifiedBy, rec.ModifiedBy != ""),
	}
}

func (repo attendanceRepository) unrecRow(row recordRow) attendance.Record {
	return attendance.Record{
		ID:         row.ID,
		SessionID:  row.SessionID,
		StudentID:  row.StudentID,
		Status:     attendance.RecordStatus(row.Status),
		RecordedAt: row.RecordedAt.Time,
		Note:       row.Note.String,
		ModifiedAt: row.ModifiedAt,
		ModifiedBy: row.ModifiedBy.String,
	}
}

// trapNoRowsErr maps psql "no rows" err to the given sentinel
func trapNoRowsErr(err, sentinel error, msg string) error {
	if err == sql.ErrNoRows {
		return sentinel
	}
	return errors.Wrap(err, msg)
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code == uniqueViolation
	}
	return false
}

func (repo attendanceRepository) getSession(ctx context.Context, query string, args ...interface{}) (attendance.Session, error) {
	var row sessionRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return attendance.Session{}, trapNoRowsErr(err, attendance.ErrSessionNotFound, "getting session")
	}
	return repo.unrow(row)
}

func (repo attendanceRepository) GetLatestSession(ctx context.Context, key attendance.Key) (attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_session
		WHERE class_id = $1 AND slot_id = $2 AND day = $3
		ORDER BY created_at DESC LIMIT 1`
	return repo.getSession(ctx, query, key.ClassID, key.SlotID, key.Day.Time(time.UTC))
}

func (repo attendanceRepository) GetSessionByID(ctx context.Context, id string) (attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_session WHERE id = $1`
	return repo.getSession(ctx, query, id)
}

func (repo attendanceRepository) GetSessionByCode(ctx context.Context, code string) (attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_session
		WHERE code = $1
		ORDER BY created_at DESC LIMIT 1`
	return repo.getSession(ctx, query, code)
}

func (repo attendanceRepository) CreateSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	sess.ID = uuid.New().String()
	row := repo.row(sess)

	query := `INSERT INTO attendance_session (` + sessionColumns + `)
		VALUES (:id, :class_id, :slot_id, :day, :modes, :status, :code, :expires_at,
			:attempts, :max_attempts, :total_students, :created_by, :created_at, :updated_at, :ended_at)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return attendance.Session{}, attendance.ErrSessionExists
		}
		return attendance.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

// UpdateSessionGuarded applies the update only when the stored row still
// carries the expected (status, attempts) pair; optimistic concurrency without
// a version column.
func (repo attendanceRepository) UpdateSessionGuarded(
	ctx context.Context,
	sess attendance.Session,
	prevStatus attendance.Status,
	prevAttempts int,
) (attendance.Session, error) {
	row := repo.row(sess)

	query := `UPDATE attendance_session SET
			modes = $1, status = $2, code = $3, expires_at = $4, attempts = $5,
			total_students = $6, updated_at = $7, ended_at = $8
		WHERE id = $9 AND status = $10 AND attempts = $11`
	res, err := repo.db.ExecContext(ctx, query,
		row.Modes, row.Status, row.Code, row.ExpiresAt, row.Attempts,
		row.TotalStudents, row.UpdatedAt, row.EndedAt,
		row.ID, string(prevStatus), prevAttempts,
	)
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "updating session")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "updating session")
	}
	if affected == 0 {
		if _, err = repo.GetSessionByID(ctx, sess.ID); errors.Cause(err) == attendance.ErrSessionNotFound {
			return attendance.Session{}, attendance.ErrSessionNotFound
		}
		return attendance.Session{}, attendance.ErrStaleSession
	}
	return sess, nil
}

func (repo attendanceRepository) DeleteSession(ctx context.Context, id string) error {
	// records cascade on the session FK
	res, err := repo.db.ExecContext(ctx, `DELETE FROM attendance_session WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	if affected, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "deleting session")
	} else if affected == 0 {
		return attendance.ErrSessionNotFound
	}
	return nil
}

func (repo attendanceRepository) QuerySessionsByClassDay(ctx context.Context, classID string, day attendance.Day) ([]attendance.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM attendance_session
		WHERE class_id = $1 AND day = $2
		ORDER BY slot_id, created_at`
	var rows []sessionRow
	if err := repo.db.SelectContext(ctx, &rows, query, classID, day.Time(time.UTC)); err != nil {
		return nil, errors.Wrap(err, "querying sessions by day")
	}
	return repo.unrowSlice(rows)
}

func (repo attendanceRepository) QuerySessionsByClass(ctx context.Context, classID string, slotID, limit int) ([]attendance.Session, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + sessionColumns + ` FROM attendance_session WHERE class_id = $1`)
	args := []interface{}{classID}
	if slotID > 0 {
		sb.WriteString(` AND slot_id = $2`)
		args = append(args, slotID)
	}
	sb.WriteString(` ORDER BY day DESC, created_at DESC`)
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	var rows []sessionRow
	if err := repo.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, errors.Wrap(err, "querying class sessions")
	}
	return repo.unrowSlice(rows)
}

func (repo attendanceRepository) QuerySessionRecords(ctx context.Context, sessionID string) ([]attendance.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_record
		WHERE session_id = $1 ORDER BY student_id`
	var rows []recordRow
	if err := repo.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, errors.Wrap(err, "querying session records")
	}
	records := make([]attendance.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, repo.unrecRow(row))
	}
	return records, nil
}

func (repo attendanceRepository) GetRecord(ctx context.Context, sessionID, recordID string) (attendance.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_record WHERE id = $1 AND session_id = $2`
	var row recordRow
	if err := repo.db.GetContext(ctx, &row, query, recordID, sessionID); err != nil {
		return attendance.Record{}, trapNoRowsErr(err, attendance.ErrRecordNotFound, "getting record")
	}
	return repo.unrecRow(row), nil
}

// UpsertRecords writes the whole batch in one transaction; a conflict on
// (session_id, student_id) turns the insert into an update, last write wins.
func (repo attendanceRepository) UpsertRecords(ctx context.Context, sessionID string, records []attendance.Record) ([]attendance.Record, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "beginning upsert tx")
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO attendance_record (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			recorded_at = EXCLUDED.recorded_at,
			note = EXCLUDED.note,
			modified_at = EXCLUDED.modified_at,
			modified_by = EXCLUDED.modified_by
		RETURNING id`

	out := make([]attendance.Record, 0, len(records))
	for _, rec := range records {
		rec.SessionID = sessionID
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		row := repo.recRow(rec)
		if err = tx.QueryRowxContext(ctx, query,
			row.ID, row.SessionID, row.StudentID, row.Status,
			row.RecordedAt, row.Note, row.ModifiedAt, row.ModifiedBy,
		).Scan(&rec.ID); err != nil {
			return nil, errors.Wrap(err, "upserting record")
		}
		out = append(out, rec)
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing upsert tx")
	}
	return out, nil
}

func (repo attendanceRepository) UpdateRecord(ctx context.Context, rec attendance.Record) (attendance.Record, error) {
	row := repo.recRow(rec)
	query := `UPDATE attendance_record SET
			status = $1, recorded_at = $2, note = $3, modified_at = $4, modified_by = $5
		WHERE id = $6`
	res, err := repo.db.ExecContext(ctx, query,
		row.Status, row.RecordedAt, row.Note, row.ModifiedAt, row.ModifiedBy, row.ID)
	if err != nil {
		return attendance.Record{}, errors.Wrap(err, "updating record")
	}
	if affected, err := res.RowsAffected(); err != nil {
		return attendance.Record{}, errors.Wrap(err, "updating record")
	} else if affected == 0 {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	return rec, nil
}

func (repo attendanceRepository) DeleteSessionsBefore(ctx context.Context, cutoff attendance.Day, statuses []attendance.Status) (int, error) {
	ss := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ss = append(ss, string(st))
	}
	res, err := repo.db.ExecContext(ctx,
		`DELETE FROM attendance_session WHERE day < $1 AND status = ANY($2)`,
		cutoff.Time(time.UTC), pq.Array(ss),
	)
	if err != nil {
		return 0, errors.Wrap(err, "sweeping sessions")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "sweeping sessions")
	}
	return int(affected), nil
}
