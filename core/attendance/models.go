package attendance

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Session statuses
const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusClosed  Status = "closed"
	StatusEnded   Status = "ended"
)

// Check-in modes
const (
	ModeQR     Mode = "qr"
	ModeCode   Mode = "code"
	ModeManual Mode = "manual"
)

// Record statuses
const (
	RecordPresent RecordStatus = "present"
	RecordAbsent  RecordStatus = "absent"
	RecordExcused RecordStatus = "excused"
)

type Status string

// Terminal reports whether no further session mutation is allowed.
// An expired session may still be revived by a create-or-get within the same day.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusEnded
}

type Mode string

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeQR, ModeCode, ModeManual:
		return m, nil
	}
	return "", errors.Errorf("unknown check-in mode %q", s)
}

// ModeSet is an ordered, duplicate-free collection of check-in modes.
// A session accumulates modes over its day (e.g. qr first, manual fallback later).
type ModeSet []Mode

func NewModeSet(modes ...Mode) ModeSet {
	var ms ModeSet
	return ms.Union(modes)
}

func ParseModeSet(values []string) (ModeSet, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one check-in mode is required")
	}
	ms := make(ModeSet, 0, len(values))
	for _, v := range values {
		m, err := ParseMode(v)
		if err != nil {
			return nil, err
		}
		ms = ms.Union(ModeSet{m})
	}
	return ms, nil
}

func (ms ModeSet) Has(m Mode) bool {
	for _, mode := range ms {
		if mode == m {
			return true
		}
	}
	return false
}

// Union merges `other` into ms, preserving insertion order and dropping duplicates.
func (ms ModeSet) Union(other ModeSet) ModeSet {
	merged := make(ModeSet, 0, len(ms)+len(other))
	merged = append(merged, ms...)
	for _, m := range other {
		if !merged.Has(m) {
			merged = append(merged, m)
		}
	}
	return merged
}

// HasAll reports whether every mode in `other` is already in ms.
func (ms ModeSet) HasAll(other ModeSet) bool {
	for _, m := range other {
		if !ms.Has(m) {
			return false
		}
	}
	return true
}

// RequiresCode reports whether the set needs a check-in code (qr or code mode).
func (ms ModeSet) RequiresCode() bool {
	return ms.Has(ModeQR) || ms.Has(ModeCode)
}

func (ms ModeSet) Strings() []string {
	ss := make([]string, 0, len(ms))
	for _, m := range ms {
		ss = append(ss, string(m))
	}
	return ss
}

type RecordStatus string

func ParseRecordStatus(s string) (RecordStatus, error) {
	switch rs := RecordStatus(s); rs {
	case RecordPresent, RecordAbsent, RecordExcused:
		return rs, nil
	}
	return "", errors.Errorf("unknown attendance status %q", s)
}

// Day is a timezone-naive calendar date. It is computed once at the boundary
// from the configured reference timezone and never re-derived from local time
// inside the core, to avoid off-by-one-day drift.
type Day struct {
	Year  int
	Month time.Month
	Dom   int
}

func NewDay(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Dom: d}
}

func DayFromTime(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Dom: d}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, errors.Errorf("invalid date %q; want YYYY-MM-DD", s)
	}
	return DayFromTime(t), nil
}

func (d Day) IsZero() bool {
	return d == Day{}
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Dom)
}

// Time returns the day's midnight in `loc`.
func (d Day) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Dom, 0, 0, 0, 0, loc)
}

func (d Day) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

func (d Day) Before(other Day) bool {
	return d.Time(time.UTC).Before(other.Time(time.UTC))
}

func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Day) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*d = Day{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	day, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = day
	return nil
}

// Key is the natural key identifying one attendance opportunity:
// at most one session may ever serve it.
type Key struct {
	ClassID string
	SlotID  int
	Day     Day
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.ClassID, k.SlotID, k.Day)
}

type Session struct {
	ID            string    `json:"id"`
	ClassID       string    `json:"class_id"`
	SlotID        int       `json:"slot_id"`
	Day           Day       `json:"day"`
	Modes         ModeSet   `json:"modes"`
	Status        Status    `json:"status"`
	Code          string    `json:"code,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"` // zero for code-less sessions
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	TotalStudents int       `json:"total_students"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
	EndedAt       time.Time `json:"ended_at"`   // UTC; zero while open
}

func (s *Session) Key() Key {
	return Key{ClassID: s.ClassID, SlotID: s.SlotID, Day: s.Day}
}

// CodeExpired is the lazy-expiry check: a pure function of (now, expiresAt, status).
func (s *Session) CodeExpired(now time.Time) bool {
	return s.Status == StatusActive && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

func (s *Session) AttemptsRemaining() int {
	if rem := s.MaxAttempts - s.Attempts; rem > 0 {
		return rem
	}
	return 0
}

type Record struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	StudentID  string       `json:"student_id"`
	Status     RecordStatus `json:"status"`
	RecordedAt time.Time    `json:"recorded_at"` // zero for unmarked/absent-by-default
	Note       string       `json:"note,omitempty"`
	ModifiedAt time.Time    `json:"modified_at"`
	ModifiedBy string       `json:"modified_by,omitempty"`
}

// ManualEntry is one teacher-supplied per-student mark in a bulk manual save.
type ManualEntry struct {
	StudentID  string
	Status     RecordStatus
	RecordedAt time.Time // optional; defaults to now for present marks
	Note       string
}

// StudentEntry is one row of the roster-joined attendance view.
// Roster members without a record show as absent without one being persisted.
type StudentEntry struct {
	StudentID  string       `json:"student_id"`
	FullName   string       `json:"full_name"`
	Email      string       `json:"email"`
	RecordID   string       `json:"record_id,omitempty"`
	Status     RecordStatus `json:"status"`
	RecordedAt time.Time    `json:"recorded_at"`
	Note       string       `json:"note,omitempty"`
}

type Summary struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Excused int `json:"excused"`
	Absent  int `json:"absent"`
}

// Summarize computes attendance counts over a record set.
// total tolerates roster drift: max(roster snapshot, len(records)).
// absent is derived, never negative.
func Summarize(totalStudents int, records []Record) Summary {
	total := totalStudents
	if len(records) > total {
		total = len(records)
	}
	sum := Summary{Total: total}
	for _, rec := range records {
		switch rec.Status {
		case RecordPresent:
			sum.Present++
		case RecordExcused:
			sum.Excused++
		}
	}
	if absent := sum.Total - sum.Present - sum.Excused; absent > 0 {
		sum.Absent = absent
	}
	return sum
}
