// Package db holds the gorm models of the schedule database. Table and
// column names match files written by earlier releases.
package db

import (
	"fmt"
	"strings"
)

type CourseStatus int

const (
	// no attendance data at all
	StatusUnknown CourseStatus = iota + 1
	// a card swipe matched, the verdict is not out yet
	StatusChecked
	StatusNormal
	StatusLeave
	StatusLate
	StatusAbsent
	// added by hand, never checked
	StatusNoCheck
)

func (s CourseStatus) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusChecked:
		return "CHECKED"
	case StatusNormal:
		return "NORMAL"
	case StatusLeave:
		return "LEAVE"
	case StatusLate:
		return "LATE"
	case StatusAbsent:
		return "ABSENT"
	case StatusNoCheck:
		return "NO_CHECK"
	}
	return fmt.Sprintf("CourseStatus(%d)", int(s))
}

type Course struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`
}

func (Course) TableName() string { return "course" }

// CourseInstance is one lesson in one week.
type CourseInstance struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	CourseID   uint         `gorm:"column:course_id;not null" json:"course_id"`
	Name       string       `json:"name"`
	DayOfWeek  int          `json:"day_of_week" validate:"min=1,max=7"`
	StartTime  int          `json:"start_time" validate:"min=1,max=11"`
	EndTime    int          `json:"end_time" validate:"min=1,max=11,gtefield=StartTime"`
	Location   string       `json:"location"`
	Teacher    string       `json:"teacher"`
	WeekNumber int          `json:"week_number" validate:"min=1"`
	Status     CourseStatus `gorm:"default:1" json:"status"`
	Manual     int          `gorm:"default:0" json:"manual"`
	TermNumber string       `json:"term_number" validate:"required"`
}

func (CourseInstance) TableName() string { return "courseinstance" }

func (c CourseInstance) IsManual() bool { return c.Manual == 1 }

type Exam struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	CourseID uint   `gorm:"column:course_id;not null" json:"course_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Seat     string `json:"seat"`
	// YYYY-MM-DD
	Date string `json:"date"`
	// HH:MM
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	DayOfWeek  int    `json:"day_of_week"`
	WeekNumber int    `json:"week_number"`
	TermNumber string `json:"term_number"`
}

func (Exam) TableName() string { return "exam" }

type Term struct {
	TermNumber string `gorm:"primaryKey" json:"term_number"`
	// YYYY-MM-DD, the Monday of week 1
	StartDate string `json:"start_date"`
}

func (Term) TableName() string { return "term" }

type Config struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"column:key;not null"`
	Value string `gorm:"column:value;not null"`
}

func (Config) TableName() string { return "config" }

// ParseCourseStatus accepts the name String returns, in any case.
func ParseCourseStatus(s string) (CourseStatus, error) {
	for st := StatusUnknown; st <= StatusNoCheck; st++ {
		if strings.EqualFold(s, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown course status %q", s)
}
