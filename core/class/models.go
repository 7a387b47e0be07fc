package class

import "time"

// Class is the administrative record an attendance session belongs to.
// Class data is managed elsewhere; this core only reads it.
type Class struct {
	ID          string `json:"id"` // upper-cased class code, e.g. CS101
	Name        string `json:"name"`
	SubjectName string `json:"subject_name"`
	SubjectCode string `json:"subject_code"`
	Semester    string `json:"semester"`
	SchoolYear  string `json:"school_year"`
	TeacherID   string `json:"teacher_id"`
	TeacherName string `json:"teacher_name"`
}

// Info is a Class with its current roster size, for teacher class listings.
type Info struct {
	Class
	StudentCount int `json:"student_count"`
}

type Student struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	Course     string    `json:"course"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// Slot is one timetable entry of a class on a given weekday.
type Slot struct {
	TimetableID string       `json:"timetable_id"`
	SlotID      int          `json:"slot_id"`
	DayOfWeek   time.Weekday `json:"day_of_week"`
	Room        string       `json:"room"`
	WeekKey     string       `json:"week_key"`
	SubjectName string       `json:"subject_name"`
	TeacherName string       `json:"teacher_name"`
}
