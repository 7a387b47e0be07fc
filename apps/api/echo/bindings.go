package echoapi

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type createSessionRequest struct {
	ClassID string   `json:"class_id" validate:"required"`
	SlotID  int      `json:"slot_id" validate:"required,min=1"`
	Modes   []string `json:"modes" validate:"required,attmodes"`
	Day     string   `json:"day" validate:"omitempty,dateonly"` // empty means today
}

func (r *createSessionRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

type finalizeRequest struct {
	ClassID string `json:"class_id" validate:"required"`
	SlotID  int    `json:"slot_id" validate:"required,min=1"`
	Day     string `json:"day" validate:"omitempty,dateonly"`
	Code    string `json:"code"`
}

func (r *finalizeRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

type manualEntryRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	Status     string `json:"status" validate:"required,attstatus"`
	RecordedAt string `json:"recorded_at"` // RFC3339; optional
	Note       string `json:"note"`
}

type saveManualRequest struct {
	Entries []manualEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

func (r *saveManualRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *saveManualRequest) entries() ([]attendance.ManualEntry, error) {
	entries := make([]attendance.ManualEntry, 0, len(r.Entries))
	for _, e := range r.Entries {
		status, err := attendance.ParseRecordStatus(e.Status)
		if err != nil {
			return nil, err
		}
		entry := attendance.ManualEntry{StudentID: e.StudentID, Status: status, Note: e.Note}
		if e.RecordedAt != "" {
			if entry.RecordedAt, err = time.Parse(time.RFC3339, e.RecordedAt); err != nil {
				return nil, err
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type patchRecordRequest struct {
	Status     *string `json:"status" validate:"omitempty,attstatus"`
	Note       *string `json:"note"`
	RecordedAt *string `json:"recorded_at"` // RFC3339
}

func (r *patchRecordRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

func (r *patchRecordRequest) patch() (attendance.RecordPatch, error) {
	var patch attendance.RecordPatch
	if r.Status != nil {
		status, err := attendance.ParseRecordStatus(*r.Status)
		if err != nil {
			return attendance.RecordPatch{}, err
		}
		patch.Status = &status
	}
	if r.RecordedAt != nil {
		t, err := time.Parse(time.RFC3339, *r.RecordedAt)
		if err != nil {
			return attendance.RecordPatch{}, err
		}
		patch.RecordedAt = &t
	}
	patch.Note = r.Note
	return patch, nil
}

type checkInRequest struct {
	Code string `json:"code" validate:"required,len=6,alphanum_"`
}

func (r *checkInRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

// sessionPayload is the wire shape of a session; code expiry is reported as
// both an absolute timestamp and the remaining reset allowance.
type sessionPayload struct {
	attendance.Session
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining"`
}

func newSessionPayload(sess attendance.Session) sessionPayload {
	p := sessionPayload{Session: sess, AttemptsRemaining: sess.AttemptsRemaining()}
	if !sess.EndedAt.IsZero() {
		p.EndedAt = &sess.EndedAt
	}
	if !sess.ExpiresAt.IsZero() {
		p.ExpiresAt = &sess.ExpiresAt
	}
	return p
}

type createSessionResponse struct {
	sessionPayload
	Reused bool `json:"reused"`
}

type sessionSummaryResponse struct {
	Session sessionPayload     `json:"session"`
	Summary attendance.Summary `json:"summary"`
}

type sessionDetailResponse struct {
	Session       sessionPayload `json:"session"`
	ClassName     string         `json:"class_name"`
	SubjectName   string         `json:"subject_name"`
	TotalStudents int            `json:"total_students"`
}

type studentsResponse struct {
	Students []attendance.StudentEntry `json:"students"`
	Summary  attendance.Summary        `json:"summary"`
}

type finalizeResponse struct {
	Session  sessionPayload            `json:"session"`
	Students []attendance.StudentEntry `json:"students"`
	Summary  attendance.Summary        `json:"summary"`
}

type recordResponse struct {
	Record  attendance.Record  `json:"record"`
	Summary attendance.Summary `json:"summary"`
}
