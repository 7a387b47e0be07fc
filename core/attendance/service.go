package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/class"
)

var (
	// errors
	ErrSessionNotFound  = errors.New("attendance session not found")
	ErrRecordNotFound   = errors.New("attendance record not found")
	ErrSessionExists    = errors.New("an attendance session already exists for this slot")
	ErrStaleSession     = errors.New("attendance session was modified concurrently")
	ErrSessionCompleted = errors.New("attendance already completed for this slot")
	ErrResetsExhausted  = errors.New("no code resets remaining")
	ErrSessionNotActive = errors.New("attendance session is no longer active")
	ErrCodeExpired      = errors.New("check-in code has expired")
	ErrManualOnly       = errors.New("manual sessions have no check-in code")
	ErrNotManualMode    = errors.New("session does not support manual marking")
	ErrNotClassOwner    = errors.New("you do not own this class")
	ErrNotClassMember   = errors.New("you do not belong to this class")
	ErrNotToday         = errors.New("only today's sessions may be changed")
	ErrCodeMismatch     = errors.New("check-in code does not match this session")

	generateCodeFunc = GenerateCode // mockable

	// maxStoreRetries bounds the create-or-get retry loop on store conflicts.
	maxStoreRetries = 3

	sweepStatuses = []Status{StatusEnded, StatusClosed, StatusExpired}
)

type (
	Repository interface {
		GetLatestSession(ctx context.Context, key Key) (Session, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		// GetSessionByCode returns the most recent session bearing `code`;
		// expiry/status checks stay with the caller.
		GetSessionByCode(ctx context.Context, code string) (Session, error)
		CreateSession(ctx context.Context, sess Session) (Session, error)
		// UpdateSessionGuarded applies `sess` only if the stored row still has
		// (prevStatus, prevAttempts); returns ErrStaleSession otherwise.
		UpdateSessionGuarded(ctx context.Context, sess Session, prevStatus Status, prevAttempts int) (Session, error)
		DeleteSession(ctx context.Context, id string) error
		QuerySessionsByClassDay(ctx context.Context, classID string, day Day) ([]Session, error)
		QuerySessionsByClass(ctx context.Context, classID string, slotID, limit int) ([]Session, error)
		QuerySessionRecords(ctx context.Context, sessionID string) ([]Record, error)
		GetRecord(ctx context.Context, sessionID, recordID string) (Record, error)
		// UpsertRecords applies all entries by (sessionID, studentID) as a single
		// all-or-nothing batch; last write wins, never duplicates.
		UpsertRecords(ctx context.Context, sessionID string, records []Record) ([]Record, error)
		UpdateRecord(ctx context.Context, rec Record) (Record, error)
		DeleteSessionsBefore(ctx context.Context, cutoff Day, statuses []Status) (int, error)
	}

	Service struct {
		repo    Repository
		classes class.Repository
		clock   core.Clock
		conf    *core.Config

		// keys serializes same-key create-or-get callers; different keys never contend.
		keys keyedMutex
	}
)

func NewService(repo Repository, classes class.Repository, clock core.Clock, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		classes: classes,
		clock:   clock,
		conf:    conf,
	}
}

// CreateOrGet input
type NewSession struct {
	ClassID string
	SlotID  int
	Modes   ModeSet
	Day     Day // zero value means today
}

type SessionSummary struct {
	Session Session `json:"session"`
	Summary Summary `json:"summary"`
}

type SessionDetail struct {
	Session       Session `json:"session"`
	ClassName     string  `json:"class_name"`
	SubjectName   string  `json:"subject_name"`
	TotalStudents int     `json:"total_students"`
}

type FinalizeRequest struct {
	ClassID string
	SlotID  int
	Day     Day
	Code    string // optional; when supplied it must match the session's code
}

type FinalizeResult struct {
	Session  Session        `json:"session"`
	Students []StudentEntry `json:"students"`
	Summary  Summary        `json:"summary"`
}

type RecordPatch struct {
	Status     *RecordStatus
	Note       *string
	RecordedAt *time.Time
}

type CheckInResult struct {
	SessionID  string    `json:"session_id"`
	ClassID    string    `json:"class_id"`
	SlotID     int       `json:"slot_id"`
	Modes      ModeSet   `json:"modes"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (svc *Service) today() Day {
	return NewDay(svc.clock.Now(), svc.conf.Attendance.Timezone)
}

// ensureClassOwner loads the class and checks the actor may act on it.
func (svc *Service) ensureClassOwner(ctx context.Context, actor core.Actor, classID string) (class.Class, error) {
	cls, err := svc.classes.GetClassByID(ctx, classID)
	if err != nil {
		return class.Class{}, err
	}
	if actor.IsAdmin {
		return cls, nil
	}
	if cls.TeacherID != "" && cls.TeacherID != actor.ID {
		return class.Class{}, ErrNotClassOwner
	}
	return cls, nil
}

// getOwnedSession loads a session and checks class ownership.
func (svc *Service) getOwnedSession(ctx context.Context, actor core.Actor, sessionID string) (Session, error) {
	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if _, err = svc.ensureClassOwner(ctx, actor, sess.ClassID); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// createAction is the outcome of the pure create-or-get decision.
type createAction int

const (
	actionCreate createAction = iota // no session for the key: insert a new one
	actionReuse                      // live session already supports the requested modes: idempotent return
	actionMerge                      // layer the requested modes onto the existing row (revives lazily-expired sessions)
	actionReject                     // key is terminally served: one attendance pass per slot per day
)

// resolveCreateOrGet decides the create-or-get transition from a snapshot of
// the latest session for the key. Pure function: storage-free and clock-free
// apart from its arguments, so the state machine is unit-testable on its own.
func resolveCreateOrGet(existing *Session, modes ModeSet, now time.Time) createAction {
	if existing == nil {
		return actionCreate
	}
	if existing.Status.Terminal() {
		return actionReject
	}
	status := existing.Status
	if existing.CodeExpired(now) {
		status = StatusExpired // lazy expiry
	}
	if status == StatusActive && existing.Modes.HasAll(modes) {
		return actionReuse
	}
	return actionMerge
}

// CreateOrGet finds or creates the single session serving (classID, slot, day).
// The read-decide-write sequence holds a per-key lock so concurrent callers
// cannot both insert; the storage unique index on the natural key backstops
// other processes, and such conflicts are retried a bounded number of times.
// The returned bool reports whether an existing session was reused unchanged.
func (svc *Service) CreateOrGet(ctx context.Context, actor core.Actor, ns NewSession) (Session, bool, error) {
	ns.ClassID = core.CleanCode(ns.ClassID)
	if ns.Day.IsZero() {
		ns.Day = svc.today()
	}
	if _, err := svc.ensureClassOwner(ctx, actor, ns.ClassID); err != nil {
		return Session{}, false, err
	}

	key := Key{ClassID: ns.ClassID, SlotID: ns.SlotID, Day: ns.Day}
	unlock := svc.keys.lock(key)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxStoreRetries; attempt++ {
		sess, reused, err := svc.createOrGetOnce(ctx, actor, key, ns.Modes)
		switch errors.Cause(err) {
		case ErrSessionExists, ErrStaleSession:
			lastErr = err
			continue
		default:
			return sess, reused, err
		}
	}
	return Session{}, false, core.NewConflictError(errors.Wrap(lastErr, "create-or-get kept conflicting"))
}

func (svc *Service) createOrGetOnce(ctx context.Context, actor core.Actor, key Key, modes ModeSet) (Session, bool, error) {
	now := svc.clock.Now()

	var existing *Session
	sess, err := svc.repo.GetLatestSession(ctx, key)
	switch errors.Cause(err) {
	case nil:
		existing = &sess
	case ErrSessionNotFound:
	default:
		return Session{}, false, errors.Wrap(err, "finding latest session")
	}

	switch resolveCreateOrGet(existing, modes, now) {
	case actionReject:
		return Session{}, false, ErrSessionCompleted

	case actionReuse:
		return *existing, true, nil

	case actionMerge:
		merged, err := svc.mergeModes(ctx, *existing, modes, now)
		return merged, false, err
	}

	// actionCreate
	total, err := svc.classes.CountClassStudents(ctx, key.ClassID)
	if err != nil {
		return Session{}, false, errors.Wrap(err, "counting class students")
	}
	sess = Session{
		ClassID:       key.ClassID,
		SlotID:        key.SlotID,
		Day:           key.Day,
		Modes:         NewModeSet(modes...),
		Status:        StatusActive,
		MaxAttempts:   svc.conf.Attendance.MaxCodeAttempts,
		TotalStudents: total,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sess.Modes.RequiresCode() {
		if sess.Code, err = generateCodeFunc(); err != nil {
			return Session{}, false, err
		}
		sess.ExpiresAt = now.Add(svc.conf.Attendance.CodeTTL)
		sess.Attempts = 1
	}
	sess, err = svc.repo.CreateSession(ctx, sess)
	if err != nil {
		return Session{}, false, err
	}
	return sess, false, nil
}

// mergeModes layers the requested modes onto an existing non-terminal session:
// mode-set union, a fresh code when the merged set needs one, revival of
// lazily-expired sessions, and a current roster snapshot.
func (svc *Service) mergeModes(ctx context.Context, sess Session, modes ModeSet, now time.Time) (Session, error) {
	prevStatus, prevAttempts := sess.Status, sess.Attempts
	wasLive := sess.Status == StatusActive && !sess.CodeExpired(now) && sess.Modes.RequiresCode()

	sess.Modes = sess.Modes.Union(modes)
	sess.Status = StatusActive
	sess.UpdatedAt = now
	if sess.Modes.RequiresCode() {
		code, err := generateCodeFunc()
		if err != nil {
			return Session{}, err
		}
		sess.Code = code
		sess.ExpiresAt = now.Add(svc.conf.Attendance.CodeTTL)
		if !wasLive {
			// fresh code-bearing activation
			sess.Attempts = 1
		}
	}
	total, err := svc.classes.CountClassStudents(ctx, sess.ClassID)
	if err != nil {
		return Session{}, errors.Wrap(err, "counting class students")
	}
	sess.TotalStudents = total
	return svc.repo.UpdateSessionGuarded(ctx, sess, prevStatus, prevAttempts)
}

// ResetCode regenerates the session's check-in code and extends its expiry.
// After MaxCodeAttempts total generations the session is force-closed and
// ErrResetsExhausted is returned together with the closed session so clients
// can sync their view.
func (svc *Service) ResetCode(ctx context.Context, actor core.Actor, sessionID string) (Session, error) {
	sess, err := svc.getOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.Modes.RequiresCode() {
		return Session{}, ErrManualOnly
	}
	if sess.Status.Terminal() {
		return sess, ErrSessionCompleted
	}

	now := svc.clock.Now()
	prevStatus, prevAttempts := sess.Status, sess.Attempts

	if sess.Attempts >= sess.MaxAttempts {
		sess.Status = StatusClosed
		sess.ExpiresAt = now
		sess.EndedAt = now
		sess.UpdatedAt = now
		if sess, err = svc.repo.UpdateSessionGuarded(ctx, sess, prevStatus, prevAttempts); err != nil {
			return Session{}, err
		}
		return sess, ErrResetsExhausted
	}

	if sess.Code, err = generateCodeFunc(); err != nil {
		return Session{}, err
	}
	sess.ExpiresAt = now.Add(svc.conf.Attendance.CodeTTL)
	sess.Attempts++
	sess.Status = StatusActive
	sess.UpdatedAt = now
	return svc.repo.UpdateSessionGuarded(ctx, sess, prevStatus, prevAttempts)
}

// Close administratively aborts a session. No aggregation is performed.
func (svc *Service) Close(ctx context.Context, actor core.Actor, sessionID string) (Session, error) {
	sess, err := svc.getOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status.Terminal() {
		return sess, ErrSessionCompleted
	}

	now := svc.clock.Now()
	prevStatus, prevAttempts := sess.Status, sess.Attempts
	sess.Status = StatusClosed
	sess.ExpiresAt = now
	sess.EndedAt = now
	sess.UpdatedAt = now
	return svc.repo.UpdateSessionGuarded(ctx, sess, prevStatus, prevAttempts)
}

// Finalize ends the session for the key and aggregates attendance across the
// full roster. Roster members without a record count as absent in the summary
// without absent rows being persisted.
func (svc *Service) Finalize(ctx context.Context, actor core.Actor, req FinalizeRequest) (FinalizeResult, error) {
	req.ClassID = core.CleanCode(req.ClassID)
	if req.Day.IsZero() {
		req.Day = svc.today()
	}
	if _, err := svc.ensureClassOwner(ctx, actor, req.ClassID); err != nil {
		return FinalizeResult{}, err
	}

	key := Key{ClassID: req.ClassID, SlotID: req.SlotID, Day: req.Day}
	sess, err := svc.repo.GetLatestSession(ctx, key)
	if err != nil {
		return FinalizeResult{}, err
	}
	if sess.Status.Terminal() {
		return FinalizeResult{}, ErrSessionCompleted
	}
	if req.Code != "" && sess.Code != "" && core.CleanCode(req.Code) != sess.Code {
		return FinalizeResult{}, ErrCodeMismatch
	}

	students, records, err := svc.rosterAndRecords(ctx, sess)
	if err != nil {
		return FinalizeResult{}, err
	}

	now := svc.clock.Now()
	prevStatus, prevAttempts := sess.Status, sess.Attempts
	sess.Status = StatusEnded
	sess.EndedAt = now
	sess.UpdatedAt = now
	if sess.ExpiresAt.IsZero() || sess.ExpiresAt.After(now) {
		sess.ExpiresAt = now
	}
	if sess, err = svc.repo.UpdateSessionGuarded(ctx, sess, prevStatus, prevAttempts); err != nil {
		return FinalizeResult{}, err
	}

	return FinalizeResult{
		Session:  sess,
		Students: joinRoster(students, records),
		Summary:  Summarize(sess.TotalStudents, records),
	}, nil
}

// Delete removes a session and its records. Only same-day sessions may be
// deleted; attendance history is immutable.
func (svc *Service) Delete(ctx context.Context, actor core.Actor, sessionID string) error {
	sess, err := svc.getOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return err
	}
	if sess.Day != svc.today() {
		return ErrNotToday
	}
	return svc.repo.DeleteSession(ctx, sess.ID)
}

// ListByDate returns all of a class' sessions on a day, each with its summary.
func (svc *Service) ListByDate(ctx context.Context, actor core.Actor, classID string, day Day) ([]SessionSummary, error) {
	classID = core.CleanCode(classID)
	if day.IsZero() {
		day = svc.today()
	}
	if _, err := svc.ensureClassOwner(ctx, actor, classID); err != nil {
		return nil, err
	}

	sessions, err := svc.repo.QuerySessionsByClassDay(ctx, classID, day)
	if err != nil {
		return nil, errors.Wrap(err, "querying sessions by day")
	}

	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		sess = svc.lazyExpire(ctx, sess)
		records, err := svc.repo.QuerySessionRecords(ctx, sess.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying session records")
		}
		out = append(out, SessionSummary{Session: sess, Summary: Summarize(sess.TotalStudents, records)})
	}
	return out, nil
}

// Detail returns a session with its class info and current roster size.
func (svc *Service) Detail(ctx context.Context, actor core.Actor, sessionID string) (SessionDetail, error) {
	sess, err := svc.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return SessionDetail{}, err
	}
	cls, err := svc.ensureClassOwner(ctx, actor, sess.ClassID)
	if err != nil {
		return SessionDetail{}, err
	}
	sess = svc.lazyExpire(ctx, sess)

	total, err := svc.classes.CountClassStudents(ctx, sess.ClassID)
	if err != nil {
		return SessionDetail{}, errors.Wrap(err, "counting class students")
	}
	return SessionDetail{
		Session:       sess,
		ClassName:     cls.Name,
		SubjectName:   cls.SubjectName,
		TotalStudents: total,
	}, nil
}

// Students returns the roster-joined attendance view plus its summary.
func (svc *Service) Students(ctx context.Context, actor core.Actor, sessionID string) ([]StudentEntry, Summary, error) {
	sess, err := svc.getOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return nil, Summary{}, err
	}
	students, records, err := svc.rosterAndRecords(ctx, sess)
	if err != nil {
		return nil, Summary{}, err
	}
	entries := joinRoster(students, records)
	return entries, Summarize(len(students), records), nil
}

// SaveManual upserts teacher-supplied per-student marks as one all-or-nothing
// batch. Only sessions supporting manual mode accept it, and only while the
// session's calendar day is current.
func (svc *Service) SaveManual(ctx context.Context, actor core.Actor, sessionID string, entries []ManualEntry) ([]StudentEntry, Summary, error) {
	sess, err := svc.getOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return nil, Summary{}, err
	}
	if !sess.Modes.Has(ModeManual) {
		return nil, Summary{}, ErrNotManualMode
	}
	if sess.Day != svc.today() {
		return nil, Summary{}, ErrNotToday
	}

	now := svc.clock.Now()
	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		rec := Record{
			SessionID:  sess.ID,
			StudentID:  entry.StudentID,
			Status:     entry.Status,
			RecordedAt: entry.RecordedAt,
			Note:       core.CleanString(entry.Note),
			ModifiedAt: now,
			ModifiedBy: actor.ID,
		}
		if rec.Status == RecordPresent && rec.RecordedAt.IsZero() {
			rec.RecordedAt = now
		}
		records = append(records, rec)
	}
	if _, err = svc.repo.UpsertRecords(ctx, sess.ID, records); err != nil {
		return nil, Summary{}, errors.Wrap(err, "upserting manual records")
	}

	students, saved, err := svc.rosterAndRecords(ctx, sess)
	if err != nil {
		return nil, Summary{}, err
	}
	return joinRoster(students, saved), Summarize(len(students), saved), nil
}

// PatchRecord corrects one record's status/note/timestamp. Corrections are
// allowed only while the owning session's calendar day is current.
func (svc *Service) PatchRecord(ctx context.Context, actor core.Actor, sessionID, recordID string, patch RecordPatch) (Record, Summary, error) {
	if patch.Status == nil && patch.Note == nil && patch.RecordedAt == nil {
		return Record{}, Summary{}, core.NewValidationError(errors.New("no fields to patch"))
	}

	sess, err := svc.getOwnedSession(ctx, actor, sessionID)
	if err != nil {
		return Record{}, Summary{}, err
	}
	if sess.Day != svc.today() {
		return Record{}, Summary{}, ErrNotToday
	}

	rec, err := svc.repo.GetRecord(ctx, sessionID, recordID)
	if err != nil {
		return Record{}, Summary{}, err
	}

	now := svc.clock.Now()
	if patch.Status != nil {
		rec.Status = *patch.Status
		if patch.RecordedAt == nil {
			// present marks get stamped now; anything else unmarks the timestamp
			if rec.Status == RecordPresent {
				rec.RecordedAt = now
			} else {
				rec.RecordedAt = time.Time{}
			}
		}
	}
	if patch.RecordedAt != nil {
		rec.RecordedAt = *patch.RecordedAt
	}
	if patch.Note != nil {
		rec.Note = core.CleanString(*patch.Note)
	}
	rec.ModifiedAt = now
	rec.ModifiedBy = actor.ID

	if rec, err = svc.repo.UpdateRecord(ctx, rec); err != nil {
		return Record{}, Summary{}, errors.Wrap(err, "updating record")
	}

	records, err := svc.repo.QuerySessionRecords(ctx, sessionID)
	if err != nil {
		return Record{}, Summary{}, errors.Wrap(err, "querying session records")
	}
	return rec, Summarize(sess.TotalStudents, records), nil
}

// CheckIn resolves a student-submitted code to a live session and upserts a
// present record. This is the student-side collaborator path.
func (svc *Service) CheckIn(ctx context.Context, actor core.Actor, rawCode string) (CheckInResult, error) {
	code := core.CleanCode(rawCode)
	sess, err := svc.repo.GetSessionByCode(ctx, code)
	if err != nil {
		return CheckInResult{}, err
	}

	now := svc.clock.Now()
	if sess.CodeExpired(now) {
		svc.lazyExpire(ctx, sess)
		return CheckInResult{}, ErrCodeExpired
	}
	if sess.Status != StatusActive {
		return CheckInResult{}, ErrSessionNotActive
	}

	member, err := svc.classes.StudentInClass(ctx, actor.ID, sess.ClassID)
	if err != nil {
		return CheckInResult{}, errors.Wrap(err, "checking class membership")
	}
	if !member {
		return CheckInResult{}, ErrNotClassMember
	}

	rec := Record{
		SessionID:  sess.ID,
		StudentID:  actor.ID,
		Status:     RecordPresent,
		RecordedAt: now,
		ModifiedAt: now,
		ModifiedBy: actor.ID,
	}
	if _, err = svc.repo.UpsertRecords(ctx, sess.ID, []Record{rec}); err != nil {
		return CheckInResult{}, errors.Wrap(err, "upserting check-in record")
	}
	return CheckInResult{
		SessionID:  sess.ID,
		ClassID:    sess.ClassID,
		SlotID:     sess.SlotID,
		Modes:      sess.Modes,
		RecordedAt: now,
	}, nil
}

type HistoryEntry struct {
	ID        string    `json:"id"`
	Day       Day       `json:"day"`
	SlotID    int       `json:"slot_id"`
	Modes     ModeSet   `json:"modes"`
	Status    Status    `json:"status"`
	Code      string    `json:"code,omitempty"`
	Present   int       `json:"present"`
	Total     int       `json:"total"`
	Ratio     int       `json:"ratio"` // percentage of present over total
	CreatedAt time.Time `json:"created_at"`
}

// History returns a class' most recent sessions with their attendance ratios.
// slotID 0 means all slots.
func (svc *Service) History(ctx context.Context, actor core.Actor, classID string, slotID, limit int) ([]HistoryEntry, error) {
	classID = core.CleanCode(classID)
	if _, err := svc.ensureClassOwner(ctx, actor, classID); err != nil {
		return nil, err
	}
	sessions, err := svc.repo.QuerySessionsByClass(ctx, classID, slotID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying class sessions")
	}

	out := make([]HistoryEntry, 0, len(sessions))
	for _, sess := range sessions {
		records, err := svc.repo.QuerySessionRecords(ctx, sess.ID)
		if err != nil {
			return nil, errors.Wrap(err, "querying session records")
		}
		sum := Summarize(len(records), records)
		entry := HistoryEntry{
			ID:        sess.ID,
			Day:       sess.Day,
			SlotID:    sess.SlotID,
			Modes:     sess.Modes,
			Status:    sess.Status,
			Code:      sess.Code,
			Present:   sum.Present,
			Total:     sum.Total,
			CreatedAt: sess.CreatedAt,
		}
		if sum.Total > 0 {
			entry.Ratio = (sum.Present*100 + sum.Total/2) / sum.Total
		}
		out = append(out, entry)
	}
	return out, nil
}

// Sweep deletes terminal sessions older than the retention window.
// Returns the number of sessions removed.
func (svc *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := NewDay(svc.clock.Now().AddDate(0, 0, -svc.conf.Attendance.RetentionDays), svc.conf.Attendance.Timezone)
	return svc.repo.DeleteSessionsBefore(ctx, cutoff, sweepStatuses)
}

// lazyExpire persists the expired status of a session whose code lapsed.
/// Best effort: a concurrent writer winning the guard just means someone else
// already advanced the row.
func (svc *Service) lazyExpire(ctx context.Context, sess Session) Session {
	now := svc.clock.Now()
	if !sess.CodeExpired(now) {
		return sess
	}
	prevStatus, prevAttempts := sess.Status, sess.Attempts
	sess.Status = StatusExpired
	sess.UpdatedAt = now
	if updated, err := svc.repo.UpdateSessionGuarded(ctx, sess, prevStatus, prevAttempts); err == nil {
		return updated
	}
	return sess
}

func (svc *Service) rosterAndRecords(ctx context.Context, sess Session) ([]class.Student, []Record, error) {
	students, err := svc.classes.QueryClassStudents(ctx, sess.ClassID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying class students")
	}
	records, err := svc.repo.QuerySessionRecords(ctx, sess.ID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying session records")
	}
	return students, records, nil
}

// joinRoster merges raw records into the roster; roster members without a
// record appear as absent (derived, not persisted).
func joinRoster(students []class.Student, records []Record) []StudentEntry {
	recordsByStudent := make(map[string]Record, len(records))
	for _, rec := range records {
		recordsByStudent[rec.StudentID] = rec
	}

	entries := make([]StudentEntry, 0, len(students))
	for _, student := range students {
		entry := StudentEntry{
			StudentID: student.ID,
			FullName:  student.FullName,
			Email:     student.Email,
			Status:    RecordAbsent,
		}
		if rec, ok := recordsByStudent[student.ID]; ok {
			entry.RecordID = rec.ID
			entry.Status = rec.Status
			entry.RecordedAt = rec.RecordedAt
			entry.Note = rec.Note
		}
		entries = append(entries, entry)
	}
	return entries
}

// keyedMutex hands out one mutex per natural key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[Key]*lockEntry
}

type lockEntry struct {
	sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key Key) (unlock func()) {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[Key]*lockEntry)
	}
	entry, ok := km.locks[key]
	if !ok {
		entry = &lockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
