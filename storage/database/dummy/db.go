package dummydb

import (
	"sync"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/class"
)

type (
	DB struct {
		attendance *attendanceTable
		class      *classTable
	}

	attendanceTable struct {
		sync.RWMutex
		sessions map[string]*attendance.Session
		records  map[string]*attendance.Record
	}

	classTable struct {
		sync.RWMutex
		classes     map[string]*class.Class
		students    map[string]*class.Student
		enrollments map[string][]string // classID -> studentIDs
		slots       map[string][]class.Slot
	}
)

func Open() (*DB, error) {
	db := &DB{
		attendance: &attendanceTable{
			sessions: make(map[string]*attendance.Session),
			records:  make(map[string]*attendance.Record),
		},
		class: &classTable{
			classes:     make(map[string]*class.Class),
			students:    make(map[string]*class.Student),
			enrollments: make(map[string][]string),
			slots:       make(map[string][]class.Slot),
		},
	}
	return db, nil
}
