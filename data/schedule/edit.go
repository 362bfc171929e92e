package schedule

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
)

// LessonEdit changes the descriptive fields of a lesson; nil leaves a
// field alone.
type LessonEdit struct {
	Name     *string
	Location *string
	Teacher  *string
}

// AddManual stores a hand added lesson. Weeks another lesson already
// occupies are refused.
func (s *Service) AddManual(ctx context.Context, g Group) error {
	term, err := s.resolveTerm(ctx, g.Term)
	if err != nil {
		return err
	}
	g.Term = term
	g.Manual = true
	if err := s.validate.Struct(g); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockedWeeks(tx, g)
		if err != nil {
			return err
		}
		if clash := intersection(locked, g.Weeks); len(clash) > 0 {
			return fmt.Errorf("%w: %v", ErrWeekLocked, clash)
		}
		return addCourseFromGroup(tx, g)
	})
}

// EditLesson applies edit to the lesson with id, or to its whole group
// when allWeeks is set.
func (s *Service) EditLesson(ctx context.Context, id uint, edit LessonEdit, allWeeks bool) error {
	lesson, err := s.lesson(ctx, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{}
		if edit.Name != nil && *edit.Name != lesson.Name {
			if *edit.Name == "" {
				return fmt.Errorf("lesson name cannot be empty")
			}
			course, err := courseFor(tx, *edit.Name)
			if err != nil {
				return err
			}
			updates["name"] = course.Name
			updates["course_id"] = course.ID
		}
		if edit.Location != nil {
			updates["location"] = *edit.Location
		}
		if edit.Teacher != nil {
			updates["teacher"] = *edit.Teacher
		}
		if len(updates) == 0 {
			return nil
		}
		q := tx.Model(&db.CourseInstance{})
		if allWeeks {
			q = groupOf(lesson).where(q)
		} else {
			q = q.Where("id = ?", lesson.ID)
		}
		return q.Updates(updates).Error
	})
}

// SetWeeks makes the group of lesson id occur in exactly weeks, inserting
// and deleting rows for the difference. An empty list removes the group.
func (s *Service) SetWeeks(ctx context.Context, id uint, weeks []int) error {
	lesson, err := s.lesson(ctx, id)
	if err != nil {
		return err
	}
	for _, w := range weeks {
		if w < 1 || w > TermLength(lesson.TermNumber) {
			return fmt.Errorf("week %d out of range for %s", w, lesson.TermNumber)
		}
	}
	g := groupOf(lesson)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current []int
		if err := g.where(tx.Model(&db.CourseInstance{})).Pluck("week_number", &current).Error; err != nil {
			return err
		}
		added := minus(uniqueWeeks(weeks), current)
		removed := minus(current, weeks)

		locked, err := lockedWeeks(tx, g)
		if err != nil {
			return err
		}
		if clash := intersection(locked, added); len(clash) > 0 {
			return fmt.Errorf("%w: %v", ErrWeekLocked, clash)
		}
		if len(removed) > 0 {
			if err := g.where(tx).Where("week_number IN ?", removed).Delete(&db.CourseInstance{}).Error; err != nil {
				return err
			}
		}
		if len(added) == 0 {
			return nil
		}
		status := db.StatusUnknown
		if lesson.IsManual() {
			status = db.StatusNoCheck
		}
		rows := make([]db.CourseInstance, len(added))
		for i, w := range added {
			row := lesson
			row.ID = 0
			row.WeekNumber = w
			row.Status = status
			rows[i] = row
		}
		return tx.Create(&rows).Error
	})
}

// LockedWeeks lists the weeks in which another lesson overlaps the
// periods of lesson id, so the group cannot move into them.
func (s *Service) LockedWeeks(ctx context.Context, id uint) ([]int, error) {
	lesson, err := s.lesson(ctx, id)
	if err != nil {
		return nil, err
	}
	return lockedWeeks(s.db.WithContext(ctx), groupOf(lesson))
}

func lockedWeeks(tx *gorm.DB, g Group) ([]int, error) {
	var weeks []int
	err := tx.Model(&db.CourseInstance{}).
		Distinct("week_number").
		Where("term_number = ? AND day_of_week = ? AND start_time <= ? AND end_time >= ?", g.Term, g.Day, g.End, g.Start).
		Where("NOT (course_id = ? AND start_time = ? AND end_time = ?)", g.CourseID, g.Start, g.End).
		Order("week_number").
		Pluck("week_number", &weeks).Error
	return weeks, err
}

func intersection(a, b []int) []int {
	set := map[int]bool{}
	for _, w := range a {
		set[w] = true
	}
	var out []int
	for _, w := range b {
		if set[w] {
			out = append(out, w)
		}
	}
	sort.Ints(out)
	return out
}

// DeleteLesson removes lesson id, or its whole group when allWeeks is set.
func (s *Service) DeleteLesson(ctx context.Context, id uint, allWeeks bool) error {
	lesson, err := s.lesson(ctx, id)
	if err != nil {
		return err
	}
	q := s.db.WithContext(ctx)
	if allWeeks {
		q = groupOf(lesson).where(q)
	} else {
		q = q.Where("id = ?", lesson.ID)
	}
	return q.Delete(&db.CourseInstance{}).Error
}

// SetStatus overrides the attendance status of one lesson by hand.
func (s *Service) SetStatus(ctx context.Context, id uint, status db.CourseStatus) error {
	if status < db.StatusUnknown || status > db.StatusNoCheck {
		return fmt.Errorf("unknown status %d", status)
	}
	res := s.db.WithContext(ctx).Model(&db.CourseInstance{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}
