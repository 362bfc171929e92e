package schedule

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
)

// AttendanceRecord is the attendance system's verdict on one lesson.
// A zero Status leaves the lesson untouched.
type AttendanceRecord struct {
	Term   string
	Week   int
	Start  int
	End    int
	Date   time.Time
	Status db.CourseStatus
}

// Swipe is one card swipe the attendance system counted.
type Swipe struct {
	Time  time.Time
	Place string
}

// Reconcile writes attendance results into the lessons of term and
// returns the lessons it changed. Verdicts are applied first; swipes only
// mark lessons still UNKNOWN as CHECKED, so running it twice is a no-op.
func (s *Service) Reconcile(ctx context.Context, term string, records []AttendanceRecord, swipes []Swipe) ([]db.CourseInstance, error) {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	var start time.Time
	if len(swipes) > 0 {
		if start, err = s.mustTermStart(ctx, term); err != nil {
			return nil, err
		}
	}

	var updated []db.CourseInstance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range records {
			if r.Status == 0 {
				continue
			}
			recTerm := r.Term
			if recTerm == "" {
				recTerm = term
			}
			var lessons []db.CourseInstance
			err := tx.Where("term_number = ? AND week_number = ? AND day_of_week = ? AND start_time = ? AND end_time = ?",
				recTerm, r.Week, Weekday(r.Date), r.Start, r.End).
				Limit(1).Find(&lessons).Error
			if err != nil {
				return err
			}
			if len(lessons) == 0 || lessons[0].Status == r.Status {
				continue
			}
			lesson := lessons[0]
			if err := tx.Model(&lesson).Update("status", r.Status).Error; err != nil {
				return err
			}
			lesson.Status = r.Status
			updated = append(updated, lesson)
		}

		for _, sw := range swipes {
			// swipes outside the term match no lesson
			week := weekSince(start, sw.Time)
			if week < 1 || week > TermLength(term) {
				continue
			}
			var lessons []db.CourseInstance
			err := tx.Where("term_number = ? AND week_number = ? AND day_of_week = ? AND location = ? AND status = ?",
				term, week, Weekday(sw.Time), sw.Place, db.StatusUnknown).
				Order("start_time").
				Find(&lessons).Error
			if err != nil {
				return err
			}
			for _, lesson := range lessons {
				if !InAttendanceWindow(sw.Time, lesson.StartTime) {
					continue
				}
				if err := tx.Model(&lesson).Update("status", db.StatusChecked).Error; err != nil {
					return err
				}
				lesson.Status = db.StatusChecked
				updated = append(updated, lesson)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{"term": term, "updated": len(updated)}).Info("reconciled attendance")
	return updated, nil
}
