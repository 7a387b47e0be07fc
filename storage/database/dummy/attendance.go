package dummydb

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core/attendance"
)

type attendanceRepository struct {
	db *attendanceTable
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) *attendanceRepository {
	return &attendanceRepository{db: db.attendance}
}

func (repo *attendanceRepository) sessionsForKey(key attendance.Key) []*attendance.Session {
	var out []*attendance.Session
	for _, sess := range repo.db.sessions {
		if sess.Key() == key {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (repo *attendanceRepository) GetLatestSession(_ context.Context, key attendance.Key) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sessions := repo.sessionsForKey(key); len(sessions) > 0 {
		return *sessions[0], nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) GetSessionByID(_ context.Context, id string) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if sess, ok := repo.db.sessions[id]; ok {
		return *sess, nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) GetSessionByCode(_ context.Context, code string) (attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var found *attendance.Session
	for _, sess := range repo.db.sessions {
		if sess.Code != code {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	if found == nil {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	return *found, nil
}

func (repo *attendanceRepository) CreateSession(_ context.Context, sess attendance.Session) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	// natural-key uniqueness, same as the DB index
	if len(repo.sessionsForKey(sess.Key())) > 0 {
		return attendance.Session{}, attendance.ErrSessionExists
	}
	sess.ID = uuid.New().String()
	repo.db.sessions[sess.ID] = &sess
	return sess, nil
}

func (repo *attendanceRepository) UpdateSessionGuarded(
	_ context.Context,
	sess attendance.Session,
	prevStatus attendance.Status,
	prevAttempts int,
) (attendance.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stored, ok := repo.db.sessions[sess.ID]
	if !ok {
		return attendance.Session{}, attendance.ErrSessionNotFound
	}
	if stored.Status != prevStatus || stored.Attempts != prevAttempts {
		return attendance.Session{}, attendance.ErrStaleSession
	}
	repo.db.sessions[sess.ID] = &sess
	return sess, nil
}

func (repo *attendanceRepository) DeleteSession(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.sessions[id]; !ok {
		return attendance.ErrSessionNotFound
	}
	delete(repo.db.sessions, id)
	for recID, rec := range repo.db.records {
		if rec.SessionID == id {
			delete(repo.db.records, recID)
		}
	}
	return nil
}

func (repo *attendanceRepository) QuerySessionsByClassDay(_ context.Context, classID string, day attendance.Day) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var out []attendance.Session
	for _, sess := range repo.db.sessions {
		if sess.ClassID == classID && sess.Day == day {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotID != out[j].SlotID {
			return out[i].SlotID < out[j].SlotID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (repo *attendanceRepository) QuerySessionsByClass(_ context.Context, classID string, slotID, limit int) ([]attendance.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var out []attendance.Session
	for _, sess := range repo.db.sessions {
		if sess.ClassID != classID {
			continue
		}
		if slotID > 0 && sess.SlotID != slotID {
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[j].Day.Before(out[i].Day)
		}
		return out[j].CreatedAt.Before(out[i].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (repo *attendanceRepository) QuerySessionRecords(_ context.Context, sessionID string) ([]attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var out []attendance.Record
	for _, rec := range repo.db.records {
		if rec.SessionID == sessionID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (repo *attendanceRepository) GetRecord(_ context.Context, sessionID, recordID string) (attendance.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.records[recordID]; ok && rec.SessionID == sessionID {
		return *rec, nil
	}
	return attendance.Record{}, attendance.ErrRecordNotFound
}

func (repo *attendanceRepository) UpsertRecords(_ context.Context, sessionID string, records []attendance.Record) ([]attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	byStudent := make(map[string]string, len(repo.db.records)) // studentID -> recordID
	for id, rec := range repo.db.records {
		if rec.SessionID == sessionID {
			byStudent[rec.StudentID] = id
		}
	}

	out := make([]attendance.Record, 0, len(records))
	for _, rec := range records {
		rec.SessionID = sessionID
		if id, ok := byStudent[rec.StudentID]; ok {
			rec.ID = id
		} else {
			rec.ID = uuid.New().String()
			byStudent[rec.StudentID] = rec.ID
		}
		stored := rec
		repo.db.records[rec.ID] = &stored
		out = append(out, rec)
	}
	return out, nil
}

func (repo *attendanceRepository) UpdateRecord(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.records[rec.ID]; !ok {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	repo.db.records[rec.ID] = &rec
	return rec, nil
}

func (repo *attendanceRepository) DeleteSessionsBefore(_ context.Context, cutoff attendance.Day, statuses []attendance.Status) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	statusSet := make(map[attendance.Status]bool, len(statuses))
	for _, st := range statuses {
		statusSet[st] = true
	}

	var removed int
	for id, sess := range repo.db.sessions {
		if !statusSet[sess.Status] || !sess.Day.Before(cutoff) {
			continue
		}
		delete(repo.db.sessions, id)
		for recID, rec := range repo.db.records {
			if rec.SessionID == id {
				delete(repo.db.records, recID)
			}
		}
		removed++
	}
	return removed, nil
}
