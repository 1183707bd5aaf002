package attendance

import (
	"context"
	"fmt"
	"time"
)

// Directory resolves canonical tags to students. Lookup returns (nil, nil)
// when no student matches.
type Directory interface {
	FindStudentByTag(ctx context.Context, tag string) (*Student, error)
}

// RecordStore persists attendance records. MostRecentRecordBetween returns
// (nil, nil) when the student has no record in the window. Transact runs fn
// against a store view whose calls commit or roll back as one unit; backends
// without transactions may run fn against themselves.
type RecordStore interface {
	Transact(ctx context.Context, fn func(RecordStore) error) error
	MostRecentRecordBetween(ctx context.Context, studentID string, from, to time.Time) (*Record, error)
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	CloseRecord(ctx context.Context, id string, checkOut time.Time) error
}

// Service is the attendance state machine. For each (student, calendar day)
// the status sequence alternates CheckedIn, CheckedOut, CheckedIn, ... with
// no upper bound; a new check-in always opens a fresh record rather than
// reusing a closed one.
type Service struct {
	dir     Directory
	store   RecordStore
	timeout time.Duration
	locks   *keyedMutex
}

// NewService builds the state machine. timeout bounds the directory/store
// calls of a single scan; <= 0 leaves the caller's context untouched.
func NewService(dir Directory, store RecordStore, timeout time.Duration) *Service {
	return &Service{
		dir:     dir,
		store:   store,
		timeout: timeout,
		locks:   newKeyedMutex(),
	}
}

// ProcessScan resolves the tag and commits the matching transition. The
// returned Outcome is always publishable; err is nil on success,
// ErrUnknownStudent for unregistered tags, and wraps ErrStoreUnavailable
// when the directory or store failed. Failures never mutate state and are
// never retried here.
func (s *Service) ProcessScan(ctx context.Context, tag string, occurredAt time.Time) (Outcome, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	student, err := s.dir.FindStudentByTag(ctx, tag)
	if err != nil {
		err = fmt.Errorf("%w: directory lookup: %v", ErrStoreUnavailable, err)
		return failureOutcome("student lookup failed", occurredAt), err
	}
	if student == nil {
		return failureOutcome("unregistered card "+tag, occurredAt), ErrUnknownStudent
	}

	// Evaluate-and-commit is serialized per student: two near-simultaneous
	// scans of one tag must observe each other's writes. Other students'
	// scans proceed in parallel.
	s.locks.Lock(student.StudentID)
	defer s.locks.Unlock(student.StudentID)

	dayStart, dayEnd := dayBounds(occurredAt)

	var outcome Outcome
	err = s.store.Transact(ctx, func(store RecordStore) error {
		last, err := store.MostRecentRecordBetween(ctx, student.StudentID, dayStart, dayEnd)
		if err != nil {
			return err
		}

		if last != nil && last.CheckOut == nil {
			if err := store.CloseRecord(ctx, last.ID, occurredAt); err != nil {
				return err
			}
			outcome = transitionOutcome(student, StatusCheckedOut, student.Name+" has checked out", occurredAt)
			return nil
		}

		_, err = store.InsertRecord(ctx, Record{
			StudentID: student.StudentID,
			CheckIn:   occurredAt,
		})
		if err != nil {
			return err
		}
		outcome = transitionOutcome(student, StatusCheckedIn, student.Name+" has checked in", occurredAt)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("%w: record transition: %v", ErrStoreUnavailable, err)
		return failureOutcome("attendance record update failed", occurredAt), err
	}
	return outcome, nil
}

// dayBounds returns the half-open local calendar day containing t. A session
// opened before midnight stays with its check-in date: the first scan after
// midnight sees no record for the new day and opens a fresh one.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
