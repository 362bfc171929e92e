package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/xjtu-toolbox/xjtutoolbox/data"
	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
)

// Resolution settles one Conflict.
type Resolution int

const (
	// keep the hand added lesson, import only the weeks it leaves free
	KeepLocal Resolution = iota
	// drop the hand added lesson in favour of the imported one
	KeepRemote
)

var ErrResolutions = errors.New("resolutions do not match conflicts")

// Conflict pairs a hand added lesson with an imported one that shares its
// slot in at least one week.
type Conflict struct {
	Local       Group `json:"local"`
	Remote      Group `json:"remote"`
	RemoteIndex int   `json:"remote_index"`
}

// Conflicts lists what Import would ask about, in the order Import expects
// resolutions.
func (s *Service) Conflicts(ctx context.Context, term string, groups []Group) ([]Conflict, error) {
	return conflicts(s.db.WithContext(ctx), term, groups)
}

func conflicts(tx *gorm.DB, term string, groups []Group) ([]Conflict, error) {
	var found []Conflict
	for i, remote := range groups {
		var rows []groupRow
		err := groupedQuery(tx).
			Where("manual = 1 AND term_number = ? AND day_of_week = ? AND start_time = ? AND end_time = ?",
				term, remote.Day, remote.Start, remote.End).
			Order("course_id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			local := r.group()
			if intersects(local.Weeks, remote.Weeks) {
				found = append(found, Conflict{Local: local, Remote: remote, RemoteIndex: i})
			}
		}
	}
	return found, nil
}

func intersects(a, b []int) bool {
	set := map[int]bool{}
	for _, w := range a {
		set[w] = true
	}
	for _, w := range b {
		if set[w] {
			return true
		}
	}
	return false
}

func minus(a, b []int) []int {
	drop := map[int]bool{}
	for _, w := range b {
		drop[w] = true
	}
	var out []int
	for _, w := range a {
		if !drop[w] {
			out = append(out, w)
		}
	}
	return out
}

// Import replaces the imported lessons of term with groups in one
// transaction. resolutions answers Conflicts in order; a missing answer
// keeps the local lesson. A term newer than the current one becomes
// current, and start, when set, is stored as its first Monday.
func (s *Service) Import(ctx context.Context, term string, start time.Time, groups []Group, resolutions []Resolution) error {
	if err := ValidTerm(term); err != nil {
		return err
	}
	for i := range groups {
		groups[i].Term = term
		groups[i].Manual = false
		if err := s.validate.Struct(groups[i]); err != nil {
			return fmt.Errorf("lesson %q: %w", groups[i].Name, err)
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := conflicts(tx, term, groups)
		if err != nil {
			return err
		}
		if len(resolutions) > len(found) {
			return fmt.Errorf("%w: %d answers for %d conflicts", ErrResolutions, len(resolutions), len(found))
		}

		incoming := make([]Group, len(groups))
		copy(incoming, groups)
		for i, c := range found {
			choice := KeepLocal
			if i < len(resolutions) {
				choice = resolutions[i]
			}
			switch choice {
			case KeepRemote:
				if err := c.Local.where(tx).Where("manual = 1").Delete(&db.CourseInstance{}).Error; err != nil {
					return err
				}
			default:
				incoming[c.RemoteIndex].Weeks = minus(incoming[c.RemoteIndex].Weeks, c.Local.Weeks)
			}
		}

		if err := clearNonManual(tx, term); err != nil {
			return err
		}
		for _, g := range incoming {
			if err := addCourseFromGroup(tx, g); err != nil {
				return err
			}
		}
		return s.adoptTerm(tx, term, start)
	})
}

func (s *Service) adoptTerm(tx *gorm.DB, term string, start time.Time) error {
	if !start.IsZero() {
		if err := setTermStart(tx, term, start); err != nil {
			return err
		}
	}
	var rows []db.Config
	if err := tx.Where(map[string]any{"key": data.KeyCurrentTerm}).Limit(1).Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) > 0 && rows[0].Value >= term {
		return nil
	}
	s.logger.WithField("term", term).Info("switching current term")
	return data.SetConfig(tx, data.KeyCurrentTerm, term)
}

// ExamInput is one scraped exam arrangement.
type ExamInput struct {
	Name     string
	Location string
	Seat     string
	Start    time.Time
	End      time.Time
}

// ImportExams replaces the exams of term. Week numbers need the term start.
func (s *Service) ImportExams(ctx context.Context, term string, exams []ExamInput) error {
	if err := ValidTerm(term); err != nil {
		return err
	}
	start, ok, err := s.TermStart(ctx, term)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("term_number = ?", term).Delete(&db.Exam{}).Error; err != nil {
			return err
		}
		for _, e := range exams {
			course, err := courseFor(tx, e.Name)
			if err != nil {
				return err
			}
			week := 0
			if ok {
				week = WeekOf(term, start, e.Start)
			}
			row := db.Exam{
				CourseID:   course.ID,
				Name:       e.Name,
				Location:   e.Location,
				Seat:       e.Seat,
				Date:       e.Start.Format(dateLayout),
				StartTime:  e.Start.Format("15:04"),
				EndTime:    e.End.Format("15:04"),
				DayOfWeek:  Weekday(e.Start),
				WeekNumber: week,
				TermNumber: term,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		s.logger.WithFields(log.Fields{"term": term, "exams": len(exams)}).Info("imported exams")
		return nil
	})
}
