package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xjtu-toolbox/xjtutoolbox/data/db"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
)

// withSchedule resolves ?account= (the current account when absent) to its
// schedule service.
func (s *Server) withSchedule(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := s.app.Account(r.URL.Query().Get("account"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		svc, err := s.app.Schedule(acct)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, acct)
		ctx = context.WithValue(ctx, scheduleKey, svc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func lessonID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "lessonID"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid lesson id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), lessonKey, uint(id))))
	})
}

func scheduleOf(r *http.Request) *schedule.Service {
	return r.Context().Value(scheduleKey).(*schedule.Service)
}

type termView struct {
	Term  string  `json:"term"`
	Start *string `json:"start"`
	// week of today, 1 when the start is unknown
	Week int `json:"week"`
}

func (s *Server) getTerm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := scheduleOf(r)
	term, err := svc.CurrentTerm(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if term == "" {
		s.fail(w, r, schedule.ErrNoTerm)
		return
	}
	view := termView{Term: term, Week: 1}
	start, ok, err := svc.TermStart(ctx, term)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ok {
		day := start.Format(time.DateOnly)
		view.Start = &day
		view.Week = schedule.WeekOf(term, start, time.Now())
	}
	writeJSON(w, http.StatusOK, view)
}

type setTermRequest struct {
	Term string `json:"term"`
	// YYYY-MM-DD, the Monday of week 1
	Start string `json:"start"`
}

func (s *Server) setTerm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := scheduleOf(r)
	var req setTermRequest
	if !decode(w, r, &req) {
		return
	}
	term := req.Term
	if term != "" {
		if err := svc.SetCurrentTerm(ctx, term); err != nil {
			s.fail(w, r, err)
			return
		}
	} else if current, err := svc.CurrentTerm(ctx); err != nil || current == "" {
		s.fail(w, r, schedule.ErrNoTerm)
		return
	} else {
		term = current
	}
	if req.Start != "" {
		start, err := time.ParseInLocation(time.DateOnly, req.Start, time.Local)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("start %q is not a date", req.Start)})
			return
		}
		if err := svc.SetTermStart(ctx, term, start); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type weekView struct {
	Term    string              `json:"term"`
	Week    int                 `json:"week"`
	Lessons []db.CourseInstance `json:"lessons"`
	Exams   []db.Exam           `json:"exams"`
}

// getWeek serves /week (this week) and /week/{week}.
func (s *Server) getWeek(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	svc := scheduleOf(r)
	term := r.URL.Query().Get("term")

	var week int
	if raw := chi.URLParam(r, "week"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid week", http.StatusBadRequest)
			return
		}
		week = n
	} else {
		n, err := svc.WeekOf(ctx, time.Now())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		week = n
	}

	if term == "" {
		current, err := svc.CurrentTerm(ctx)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		term = current
	}
	lessons, err := svc.CourseInWeek(ctx, week, term)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	exams, err := svc.ExamInWeek(ctx, week, term)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weekView{Term: term, Week: week, Lessons: lessons, Exams: exams})
}

func (s *Server) getExams(w http.ResponseWriter, r *http.Request) {
	exams, err := scheduleOf(r).ExamsInTerm(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (s *Server) getGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := scheduleOf(r).Groups(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) exportOptions(r *http.Request) schedule.ExportOptions {
	alarms, _ := strconv.ParseBool(r.URL.Query().Get("alarms"))
	return schedule.ExportOptions{
		Term:     r.URL.Query().Get("term"),
		Holidays: s.app.Config.Holidays(),
		Alarms:   alarms,
	}
}

// export renders into memory first so a failure still gets a JSON error.
func (s *Server) export(w http.ResponseWriter, r *http.Request, contentType, name string,
	render func(context.Context, io.Writer, schedule.ExportOptions) error) {
	var buf bytes.Buffer
	if err := render(r.Context(), &buf, s.exportOptions(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(buf.Bytes())
}

func (s *Server) exportICS(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "text/calendar; charset=utf-8", "schedule.ics", scheduleOf(r).ExportICS)
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request) {
	s.export(w, r, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "schedule.xlsx", scheduleOf(r).ExportXLSX)
}

type editLessonRequest struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
	Teacher  *string `json:"teacher"`
	AllWeeks bool    `json:"all_weeks"`
}

func (s *Server) editLesson(w http.ResponseWriter, r *http.Request) {
	var req editLessonRequest
	if !decode(w, r, &req) {
		return
	}
	id := r.Context().Value(lessonKey).(uint)
	edit := schedule.LessonEdit{Name: req.Name, Location: req.Location, Teacher: req.Teacher}
	if err := scheduleOf(r).EditLesson(r.Context(), id, edit, req.AllWeeks); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteLesson(w http.ResponseWriter, r *http.Request) {
	allWeeks, _ := strconv.ParseBool(r.URL.Query().Get("all_weeks"))
	id := r.Context().Value(lessonKey).(uint)
	if err := scheduleOf(r).DeleteLesson(r.Context(), id, allWeeks); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setWeeksRequest struct {
	Weeks []int `json:"weeks"`
}

func (s *Server) setWeeks(w http.ResponseWriter, r *http.Request) {
	var req setWeeksRequest
	if !decode(w, r, &req) {
		return
	}
	id := r.Context().Value(lessonKey).(uint)
	if err := scheduleOf(r).SetWeeks(r.Context(), id, req.Weeks); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := db.ParseCourseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	id := r.Context().Value(lessonKey).(uint)
	if err := scheduleOf(r).SetStatus(r.Context(), id, status); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
