package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core/class"
)

type classRepository struct {
	db *sqlx.DB
}

var _ class.Repository = (*classRepository)(nil) // interface compliance check

func NewClassRepository(db *sql.DB) *classRepository {
	return &classRepository{db: sqlx.NewDb(db, "postgres")}
}

type classRow struct {
	ID           string      `db:"id"`
	Name         string      `db:"name"`
	SubjectName  null.String `db:"subject_name"`
	SubjectCode  null.String `db:"subject_code"`
	Semester     null.String `db:"semester"`
	SchoolYear   null.String `db:"school_year"`
	TeacherID    null.String `db:"teacher_id"`
	TeacherName  null.String `db:"teacher_name"`
	StudentCount int         `db:"student_count"`
}

type studentRow struct {
	ID         string      `db:"id"`
	FullName   string      `db:"full_name"`
	Email      null.String `db:"email"`
	Course     null.String `db:"course"`
	EnrolledAt null.Time   `db:"enrolled_at"`
}

type slotRow struct {
	TimetableID string      `db:"id"`
	SlotID      int         `db:"slot_id"`
	DayOfWeek   int         `db:"day_of_week"`
	Room        null.String `db:"room"`
	WeekKey     null.String `db:"week_key"`
	SubjectName null.String `db:"subject_name"`
	TeacherName null.String `db:"teacher_name"`
}

const classColumns = `c.id, c.name, c.subject_name, c.subject_code, c.semester, c.school_year,
	c.teacher_id, c.teacher_name`

func (repo classRepository) unrow(row classRow) class.Class {
	return class.Class{
		ID:          row.ID,
		Name:        row.Name,
		SubjectName: row.SubjectName.String,
		SubjectCode: row.SubjectCode.String,
		Semester:    row.Semester.String,
		SchoolYear:  row.SchoolYear.String,
		TeacherID:   row.TeacherID.String,
		TeacherName: row.TeacherName.String,
	}
}

func (repo classRepository) GetClassByID(ctx context.Context, id string) (class.Class, error) {
	query := `SELECT ` + classColumns + ` FROM class c WHERE c.id = $1`
	var row classRow
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return class.Class{}, class.ErrNotFound
		}
		return class.Class{}, errors.Wrap(err, "getting class")
	}
	return repo.unrow(row), nil
}

func (repo classRepository) QueryClassesByTeacher(ctx context.Context, teacherID string) ([]class.Info, error) {
	query := `SELECT ` + classColumns + `,
			(SELECT COUNT(*) FROM class_student cs WHERE cs.class_id = c.id) AS student_count
		FROM class c
		WHERE c.teacher_id = $1
		ORDER BY c.name`
	var rows []classRow
	if err := repo.db.SelectContext(ctx, &rows, query, teacherID); err != nil {
		return nil, errors.Wrap(err, "querying teacher classes")
	}
	out := make([]class.Info, 0, len(rows))
	for _, row := range rows {
		out = append(out, class.Info{Class: repo.unrow(row), StudentCount: row.StudentCount})
	}
	return out, nil
}

func (repo classRepository) QueryClassStudents(ctx context.Context, classID string) ([]class.Student, error) {
	query := `SELECT s.id, s.full_name, s.email, s.course, cs.enrolled_at
		FROM student s
		JOIN class_student cs ON cs.student_id = s.id
		WHERE cs.class_id = $1
		ORDER BY s.full_name`
	var rows []studentRow
	if err := repo.db.SelectContext(ctx, &rows, query, classID); err != nil {
		return nil, errors.Wrap(err, "querying class students")
	}
	out := make([]class.Student, 0, len(rows))
	for _, row := range rows {
		out = append(out, class.Student{
			ID:         row.ID,
			FullName:   row.FullName,
			Email:      row.Email.String,
			Course:     row.Course.String,
			EnrolledAt: row.EnrolledAt.Time,
		})
	}
	return out, nil
}

func (repo classRepository) CountClassStudents(ctx context.Context, classID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM class_student WHERE class_id = $1`
	if err := repo.db.GetContext(ctx, &count, query, classID); err != nil {
		return 0, errors.Wrap(err, "counting class students")
	}
	return count, nil
}

func (repo classRepository) StudentInClass(ctx context.Context, studentID, classID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM class_student WHERE student_id = $1 AND class_id = $2)`
	if err := repo.db.GetContext(ctx, &exists, query, studentID, classID); err != nil {
		return false, errors.Wrap(err, "checking class membership")
	}
	return exists, nil
}

func (repo classRepository) QueryClassSlots(ctx context.Context, classID string, dow time.Weekday) ([]class.Slot, error) {
	query := `SELECT t.id, t.slot_id, t.day_of_week, t.room, t.week_key, c.subject_name, c.teacher_name
		FROM timetable t
		JOIN class c ON c.id = t.class_id
		WHERE t.class_id = $1 AND t.day_of_week = $2
		ORDER BY t.slot_id`
	var rows []slotRow
	if err := repo.db.SelectContext(ctx, &rows, query, classID, int(dow)); err != nil {
		return nil, errors.Wrap(err, "querying class slots")
	}
	out := make([]class.Slot, 0, len(rows))
	for _, row := range rows {
		out = append(out, class.Slot{
			TimetableID: row.TimetableID,
			SlotID:      row.SlotID,
			DayOfWeek:   time.Weekday(row.DayOfWeek),
			Room:        row.Room.String,
			WeekKey:     row.WeekKey.String,
			SubjectName: row.SubjectName.String,
			TeacherName: row.TeacherName.String,
		})
	}
	return out, nil
}
