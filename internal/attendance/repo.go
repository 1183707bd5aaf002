package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateStudent reports an insert that collides with an existing
// student id or tag.
var ErrDuplicateStudent = errors.New("student already registered")

// querier is satisfied by both *sql.DB and *sql.Tx so record operations run
// the same inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists students and attendance records in Postgres. It backs
// both the Directory and RecordStore contracts of the state machine.
type Repository struct {
	db *sql.DB
	q  querier
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// Transact runs fn against a transaction-scoped view of the repository.
func (r *Repository) Transact(ctx context.Context, fn func(RecordStore) error) error {
	if r.db == nil {
		// Already inside a transaction; nested sections share it.
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Repository{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// FindStudentByTag resolves a canonical tag to a student. Tags are usually
// programmed with the student number, so the lookup matches either column.
func (r *Repository) FindStudentByTag(ctx context.Context, tag string) (*Student, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, student_id, name, grade, parent_phone, COALESCE(rfid_tag, ''), created_at
		FROM students
		WHERE rfid_tag = $1 OR student_id = $1
		LIMIT 1
	`, tag)
	var s Student
	if err := row.Scan(&s.ID, &s.StudentID, &s.Name, &s.Grade, &s.ParentPhone, &s.RFIDTag, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// MostRecentRecordBetween returns the latest record whose check-in falls in
// [from, to), or nil when the student has none.
func (r *Repository) MostRecentRecordBetween(ctx context.Context, studentID string, from, to time.Time) (*Record, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, student_id, check_in, check_out, created_at
		FROM attendance
		WHERE student_id = $1 AND check_in >= $2 AND check_in < $3
		ORDER BY check_in DESC
		LIMIT 1
	`, studentID, from, to)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.CheckIn, &rec.CheckOut, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// InsertRecord writes a new open record.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CheckIn.IsZero() {
		rec.CheckIn = time.Now()
	}
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, check_in)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.CheckIn)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// CloseRecord stamps the check-out time on an open record. Closing an
// already-closed record indicates a serialization bug upstream.
func (r *Repository) CloseRecord(ctx context.Context, id string, checkOut time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE attendance
		SET check_out = $2
		WHERE id = $1 AND check_out IS NULL
	`, id, checkOut)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("record " + id + " not open")
	}
	return nil
}

// AttendanceBetween returns records with check-in inside [from, to) joined
// with student info, newest first. Status is derived from check_out.
func (r *Repository) AttendanceBetween(ctx context.Context, from, to time.Time) ([]RecordWithStudent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT a.id, a.student_id, a.check_in, a.check_out, a.created_at,
		       s.name, s.grade, s.parent_phone
		FROM attendance a
		JOIN students s ON a.student_id = s.student_id
		WHERE a.check_in >= $1 AND a.check_in < $2
		ORDER BY a.check_in DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []RecordWithStudent
	for rows.Next() {
		var rec RecordWithStudent
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CheckIn, &rec.CheckOut, &rec.CreatedAt,
			&rec.Name, &rec.Grade, &rec.ParentPhone); err != nil {
			return nil, err
		}
		rec.Status = rec.Record.Status()
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListStudents returns all registered students.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, student_id, name, grade, parent_phone, COALESCE(rfid_tag, ''), created_at
		FROM students
		ORDER BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.StudentID, &s.Name, &s.Grade, &s.ParentPhone, &s.RFIDTag, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// GetStudent returns a single student by student_id, or nil when absent.
func (r *Repository) GetStudent(ctx context.Context, studentID string) (*Student, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, student_id, name, grade, parent_phone, COALESCE(rfid_tag, ''), created_at
		FROM students WHERE student_id = $1
	`, studentID)
	var s Student
	if err := row.Scan(&s.ID, &s.StudentID, &s.Name, &s.Grade, &s.ParentPhone, &s.RFIDTag, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// CreateStudent registers a new student.
func (r *Repository) CreateStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	var tag any
	if s.RFIDTag != "" {
		tag = s.RFIDTag
	}
	row := r.q.QueryRowContext(ctx, `
		INSERT INTO students (id, student_id, name, grade, parent_phone, rfid_tag)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, s.ID, s.StudentID, s.Name, s.Grade, s.ParentPhone, tag)
	if err := row.Scan(&s.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Student{}, ErrDuplicateStudent
		}
		return Student{}, err
	}
	return s, nil
}

// UpsertDevice ensures a reader relay record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (device_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, deviceID, token, expiresAt)
	return err
}
