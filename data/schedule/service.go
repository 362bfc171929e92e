// Package schedule is the domain layer over the schedule database: terms,
// week math, importing timetables, hand edits and attendance status.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/xjtu-toolbox/xjtutoolbox/data"
	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
)

var (
	ErrNoTerm      = errors.New("no current term")
	ErrNoTermStart = errors.New("term start date unknown")
	ErrBadTerm     = errors.New("malformed term number")
	ErrWeekLocked  = errors.New("week is taken by another lesson")
	ErrNotFound    = errors.New("lesson not found")
)

type Service struct {
	store    *data.Store
	db       *gorm.DB
	logger   *log.Entry
	validate *validator.Validate
}

func New(store *data.Store, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "schedule")
	}
	return &Service{store: store, db: store.DB, logger: logger, validate: validator.New()}
}

func (s *Service) Store() *data.Store { return s.store }

// CurrentTerm returns "" when no term was ever set.
func (s *Service) CurrentTerm(ctx context.Context) (string, error) {
	term, _, err := s.store.GetConfig(ctx, data.KeyCurrentTerm)
	return term, err
}

func (s *Service) SetCurrentTerm(ctx context.Context, term string) error {
	if err := ValidTerm(term); err != nil {
		return err
	}
	return s.store.SetConfig(ctx, data.KeyCurrentTerm, term)
}

// resolveTerm substitutes the current term for "".
func (s *Service) resolveTerm(ctx context.Context, term string) (string, error) {
	if term != "" {
		return term, nil
	}
	term, err := s.CurrentTerm(ctx)
	if err != nil {
		return "", err
	}
	if term == "" {
		return "", ErrNoTerm
	}
	return term, nil
}

// TermStart returns the Monday of week 1; ok is false when it is unknown.
func (s *Service) TermStart(ctx context.Context, term string) (start time.Time, ok bool, err error) {
	term, err = s.resolveTerm(ctx, term)
	if err != nil {
		return time.Time{}, false, err
	}
	var rows []db.Term
	if err := s.db.WithContext(ctx).Where("term_number = ?", term).Limit(1).Find(&rows).Error; err != nil {
		return time.Time{}, false, err
	}
	raw := ""
	if len(rows) > 0 {
		raw = rows[0].StartDate
	} else if current, _ := s.CurrentTerm(ctx); current == term {
		// files that predate the term table
		raw, _, err = s.store.GetConfig(ctx, data.KeyStartOfTerm)
		if err != nil {
			return time.Time{}, false, err
		}
	}
	if raw == "" {
		return time.Time{}, false, nil
	}
	start, err = parseDate(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("term %s start %q: %w", term, raw, err)
	}
	return start, true, nil
}

func (s *Service) SetTermStart(ctx context.Context, term string, start time.Time) error {
	if err := ValidTerm(term); err != nil {
		return err
	}
	return setTermStart(s.db.WithContext(ctx), term, start)
}

func setTermStart(tx *gorm.DB, term string, start time.Time) error {
	row := db.Term{TermNumber: term, StartDate: start.Format(dateLayout)}
	return tx.Save(&row).Error
}

func (s *Service) mustTermStart(ctx context.Context, term string) (time.Time, error) {
	start, ok, err := s.TermStart(ctx, term)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoTermStart, term)
	}
	return start, nil
}

// WeekOf returns the week of the current term date falls in.
func (s *Service) WeekOf(ctx context.Context, date time.Time) (int, error) {
	term, err := s.resolveTerm(ctx, "")
	if err != nil {
		return 0, err
	}
	start, ok, err := s.TermStart(ctx, term)
	if err != nil || !ok {
		return 1, err
	}
	return WeekOf(term, start, date), nil
}

func (s *Service) CourseInTerm(ctx context.Context, term string) ([]db.CourseInstance, error) {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	var rows []db.CourseInstance
	err = s.db.WithContext(ctx).
		Where("term_number = ?", term).
		Order("week_number, day_of_week, start_time").
		Find(&rows).Error
	return rows, err
}

func (s *Service) CourseInWeek(ctx context.Context, week int, term string) ([]db.CourseInstance, error) {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	var rows []db.CourseInstance
	err = s.db.WithContext(ctx).
		Where("term_number = ? AND week_number = ?", term, week).
		Order("day_of_week, start_time").
		Find(&rows).Error
	return rows, err
}

func (s *Service) ExamInWeek(ctx context.Context, week int, term string) ([]db.Exam, error) {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	var rows []db.Exam
	err = s.db.WithContext(ctx).
		Where("term_number = ? AND week_number = ?", term, week).
		Order("day_of_week, start_time").
		Find(&rows).Error
	return rows, err
}

func (s *Service) ExamsInTerm(ctx context.Context, term string) ([]db.Exam, error) {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	var rows []db.Exam
	err = s.db.WithContext(ctx).Where("term_number = ?", term).Order("date, start_time").Find(&rows).Error
	return rows, err
}

// Group is a recurring lesson: every CourseInstance sharing course, day,
// periods and term.
type Group struct {
	CourseID uint   `json:"course_id"`
	Name     string `json:"name" validate:"required"`
	Day      int    `json:"day" validate:"min=1,max=7"`
	Start    int    `json:"start" validate:"min=1,max=11"`
	End      int    `json:"end" validate:"min=1,max=11,gtefield=Start"`
	Location string `json:"location"`
	Teacher  string `json:"teacher"`
	Weeks    []int  `json:"weeks" validate:"dive,min=1"`
	Term     string `json:"term" validate:"required"`
	Manual   bool   `json:"manual"`
}

// WeekNumbers is the comma joined week list.
func (g Group) WeekNumbers() string {
	parts := make([]string, len(g.Weeks))
	for i, w := range g.Weeks {
		parts[i] = strconv.Itoa(w)
	}
	return strings.Join(parts, ",")
}

func groupOf(c db.CourseInstance) Group {
	return Group{
		CourseID: c.CourseID,
		Name:     c.Name,
		Day:      c.DayOfWeek,
		Start:    c.StartTime,
		End:      c.EndTime,
		Location: c.Location,
		Teacher:  c.Teacher,
		Term:     c.TermNumber,
		Manual:   c.IsManual(),
	}
}

func (g Group) where(tx *gorm.DB) *gorm.DB {
	return tx.Where("course_id = ? AND day_of_week = ? AND start_time = ? AND end_time = ? AND term_number = ?",
		g.CourseID, g.Day, g.Start, g.End, g.Term)
}

type groupRow struct {
	CourseID    uint
	Name        string
	DayOfWeek   int
	StartTime   int
	EndTime     int
	TermNumber  string
	Location    string
	Teacher     string
	Manual      int
	WeekNumbers string
}

func groupedQuery(tx *gorm.DB) *gorm.DB {
	return tx.Model(&db.CourseInstance{}).
		Select("course_id, max(name) AS name, day_of_week, start_time, end_time, term_number, " +
			"max(location) AS location, max(teacher) AS teacher, max(manual) AS manual, " +
			"group_concat(week_number) AS week_numbers").
		Group("course_id, day_of_week, start_time, end_time, term_number")
}

func (r groupRow) group() Group {
	g := Group{
		CourseID: r.CourseID,
		Name:     r.Name,
		Day:      r.DayOfWeek,
		Start:    r.StartTime,
		End:      r.EndTime,
		Location: r.Location,
		Teacher:  r.Teacher,
		Term:     r.TermNumber,
		Manual:   r.Manual == 1,
	}
	for _, part := range strings.Split(r.WeekNumbers, ",") {
		if w, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			g.Weeks = append(g.Weeks, w)
		}
	}
	sort.Ints(g.Weeks)
	return g
}

// Groups collapses the term's lessons into their recurrences.
func (s *Service) Groups(ctx context.Context, term string) ([]Group, error) {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return nil, err
	}
	var rows []groupRow
	err = groupedQuery(s.db.WithContext(ctx)).
		Where("term_number = ?", term).
		Order("day_of_week, start_time").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	groups := make([]Group, len(rows))
	for i, r := range rows {
		groups[i] = r.group()
	}
	return groups, nil
}

// GroupOf returns the recurrence the lesson with id belongs to.
func (s *Service) GroupOf(ctx context.Context, id uint) (Group, error) {
	lesson, err := s.lesson(ctx, id)
	if err != nil {
		return Group{}, err
	}
	g := groupOf(lesson)
	var rows []groupRow
	if err := g.where(groupedQuery(s.db.WithContext(ctx))).Scan(&rows).Error; err != nil {
		return Group{}, err
	}
	if len(rows) == 0 {
		return Group{}, ErrNotFound
	}
	return rows[0].group(), nil
}

func (s *Service) lesson(ctx context.Context, id uint) (db.CourseInstance, error) {
	var rows []db.CourseInstance
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return db.CourseInstance{}, err
	}
	if len(rows) == 0 {
		return db.CourseInstance{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return rows[0], nil
}

// courseFor returns the course named name, creating it when missing.
func courseFor(tx *gorm.DB, name string) (db.Course, error) {
	var course db.Course
	err := tx.Where(db.Course{Name: name}).FirstOrCreate(&course).Error
	return course, err
}

// AddCourseFromGroup stores one row per week of g.
func (s *Service) AddCourseFromGroup(ctx context.Context, g Group) error {
	if err := s.validate.Struct(g); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return addCourseFromGroup(tx, g)
	})
}

func addCourseFromGroup(tx *gorm.DB, g Group) error {
	if len(g.Weeks) == 0 {
		return nil
	}
	course, err := courseFor(tx, g.Name)
	if err != nil {
		return err
	}
	status, manual := db.StatusUnknown, 0
	if g.Manual {
		status, manual = db.StatusNoCheck, 1
	}
	rows := make([]db.CourseInstance, 0, len(g.Weeks))
	for _, w := range uniqueWeeks(g.Weeks) {
		rows = append(rows, db.CourseInstance{
			CourseID:   course.ID,
			Name:       g.Name,
			DayOfWeek:  g.Day,
			StartTime:  g.Start,
			EndTime:    g.End,
			Location:   g.Location,
			Teacher:    g.Teacher,
			WeekNumber: w,
			Status:     status,
			Manual:     manual,
			TermNumber: g.Term,
		})
	}
	return tx.Create(&rows).Error
}

func uniqueWeeks(weeks []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(weeks))
	for _, w := range weeks {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Ints(out)
	return out
}

// ClearNonManualCourses drops every imported lesson of term.
func (s *Service) ClearNonManualCourses(ctx context.Context, term string) error {
	term, err := s.resolveTerm(ctx, term)
	if err != nil {
		return err
	}
	return clearNonManual(s.db.WithContext(ctx), term)
}

func clearNonManual(tx *gorm.DB, term string) error {
	return tx.Where("manual = 0 AND term_number = ?", term).Delete(&db.CourseInstance{}).Error
}
