package attendance

import (
	"errors"
	"time"
)

// Status is the presence state carried by records and outcomes.
type Status string

const (
	StatusCheckedIn  Status = "CheckedIn"
	StatusCheckedOut Status = "CheckedOut"
	StatusError      Status = "Error"
)

var (
	// ErrUnknownStudent means the canonical tag matched nothing in the
	// student directory. No state is mutated.
	ErrUnknownStudent = errors.New("no student registered for tag")

	// ErrStoreUnavailable classifies directory/store failures. The caller
	// owns any retry decision; retrying a toggle here could double-toggle.
	ErrStoreUnavailable = errors.New("attendance store unavailable")
)

// Student is the directory's view of a registered student.
type Student struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Name        string    `json:"name"`
	Grade       string    `json:"grade"`
	ParentPhone string    `json:"parent_phone"`
	RFIDTag     string    `json:"rfid_tag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is one open-or-closed presence session for a student on a calendar
// day. A student may accumulate any number of closed records per day; at most
// one may be open at any instant.
type Record struct {
	ID        string     `json:"id"`
	StudentID string     `json:"student_id"`
	CheckIn   time.Time  `json:"check_in"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Status derives the presence state from the check-out column.
func (r Record) Status() Status {
	if r.CheckOut == nil {
		return StatusCheckedIn
	}
	return StatusCheckedOut
}

// RecordWithStudent is a record joined with directory fields, used by the
// today/range queries that feed dashboards and reports.
type RecordWithStudent struct {
	Record
	Name        string `json:"name"`
	Grade       string `json:"grade"`
	ParentPhone string `json:"parent_phone"`
	Status      Status `json:"status"`
}

// StudentInfo is the subset of Student that travels in broadcast messages.
type StudentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Grade string `json:"grade"`
}

// Outcome is the result of processing one canonical tag: a transition or a
// classified failure. It is returned to the ingestion caller and published
// to observers as-is.
type Outcome struct {
	Type      string       `json:"type"`
	Success   bool         `json:"success"`
	Student   *StudentInfo `json:"student,omitempty"`
	Status    Status       `json:"status"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

func transitionOutcome(s *Student, status Status, message string, at time.Time) Outcome {
	return Outcome{
		Type:    "scan",
		Success: true,
		Student: &StudentInfo{
			ID:    s.StudentID,
			Name:  s.Name,
			Grade: s.Grade,
		},
		Status:    status,
		Message:   message,
		Timestamp: at,
	}
}

func failureOutcome(message string, at time.Time) Outcome {
	return Outcome{
		Type:      "scan",
		Success:   false,
		Status:    StatusError,
		Message:   message,
		Timestamp: at,
	}
}
