package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/mahudhurio/core/class"
)

type classRepository struct {
	db *classTable
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *DB) *classRepository {
	return &classRepository{db: db.class}
}

// Seed helpers; class data is read-only collaborator state in this core,
// tests populate it directly.

func (repo *classRepository) AddClass(cls class.Class) class.Class {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.classes[cls.ID] = &cls
	return cls
}

func (repo *classRepository) AddStudent(student class.Student, classIDs ...string) class.Student {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.students[student.ID] = &student
	for _, classID := range classIDs {
		repo.db.enrollments[classID] = append(repo.db.enrollments[classID], student.ID)
	}
	return student
}

func (repo *classRepository) AddSlot(classID string, slot class.Slot) {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.slots[classID] = append(repo.db.slots[classID], slot)
}

// class.Repository implementation

func (repo *classRepository) GetClassByID(_ context.Context, id string) (class.Class, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if cls, ok := repo.db.classes[id]; ok {
		return *cls, nil
	}
	return class.Class{}, class.ErrNotFound
}

func (repo *classRepository) QueryClassesByTeacher(_ context.Context, teacherID string) ([]class.Info, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var out []class.Info
	for _, cls := range repo.db.classes {
		if cls.TeacherID == teacherID {
			out = append(out, class.Info{Class: *cls, StudentCount: len(repo.db.enrollments[cls.ID])})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (repo *classRepository) QueryClassStudents(_ context.Context, classID string) ([]class.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	studentIDs, ok := repo.db.enrollments[classID]
	if !ok {
		return nil, nil
	}
	out := make([]class.Student, 0, len(studentIDs))
	for _, id := range studentIDs {
		if student, ok := repo.db.students[id]; ok {
			out = append(out, *student)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (repo *classRepository) CountClassStudents(_ context.Context, classID string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return len(repo.db.enrollments[classID]), nil
}

func (repo *classRepository) StudentInClass(_ context.Context, studentID, classID string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, id := range repo.db.enrollments[classID] {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *classRepository) QueryClassSlots(_ context.Context, classID string, dow time.Weekday) ([]class.Slot, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var out []class.Slot
	for _, slot := range repo.db.slots[classID] {
		if slot.DayOfWeek == dow {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out, nil
}
