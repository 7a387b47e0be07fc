package class

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound = errors.New("class not found")
)

type (
	Repository interface {
		GetClassByID(ctx context.Context, id string) (Class, error)
		QueryClassesByTeacher(ctx context.Context, teacherID string) ([]Info, error)
		QueryClassStudents(ctx context.Context, classID string) ([]Student, error)
		CountClassStudents(ctx context.Context, classID string) (int, error)
		StudentInClass(ctx context.Context, studentID, classID string) (bool, error)
		QueryClassSlots(ctx context.Context, classID string, dow time.Weekday) ([]Slot, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) GetByID(ctx context.Context, id string) (Class, error) {
	return svc.repo.GetClassByID(ctx, id)
}

func (svc *Service) QueryByTeacher(ctx context.Context, teacherID string) ([]Info, error) {
	return svc.repo.QueryClassesByTeacher(ctx, teacherID)
}

func (svc *Service) Students(ctx context.Context, classID string) ([]Student, error) {
	return svc.repo.QueryClassStudents(ctx, classID)
}

func (svc *Service) CountStudents(ctx context.Context, classID string) (int, error) {
	return svc.repo.CountClassStudents(ctx, classID)
}

func (svc *Service) IsMember(ctx context.Context, studentID, classID string) (bool, error) {
	return svc.repo.StudentInClass(ctx, studentID, classID)
}

func (svc *Service) SlotsOn(ctx context.Context, classID string, dow time.Weekday) ([]Slot, error) {
	return svc.repo.QueryClassSlots(ctx, classID, dow)
}
