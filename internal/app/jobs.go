package app

import (
	"context"
	"fmt"
	"time"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
)

type JobKind string

const (
	JobLogin      JobKind = "login"
	JobSchedule   JobKind = "schedule"
	JobExams      JobKind = "exams"
	JobAttendance JobKind = "attendance"
	JobScores     JobKind = "scores"
	JobEmptyRooms JobKind = "emptyrooms"
	JobEvaluate   JobKind = "evaluate"
	JobNotices    JobKind = "notices"
)

// Job asks for one worker. Account empty means the current account.
type Job struct {
	Kind    JobKind `json:"kind" validate:"required,oneof=login schedule exams attendance scores emptyrooms evaluate notices"`
	Account string  `json:"account"`
	// login only
	Site       string `json:"site" validate:"required_if=Kind login"`
	Method     string `json:"method" validate:"omitempty,oneof=normal webvpn"`
	TrustAgent bool   `json:"trust_agent"`
	// schedule, exams and evaluate
	Term string `json:"term"`
	// scores: push to the hook without new grades
	Force bool `json:"force"`
	// emptyrooms
	Campus   string `json:"campus" validate:"required_if=Kind emptyrooms"`
	Building string `json:"building" validate:"required_if=Kind emptyrooms"`
	// YYYY-MM-DD, empty is today
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	// evaluate
	Grade   int      `json:"grade" validate:"omitempty,min=1,max=5"`
	Comment string   `json:"comment"`
	Only    []string `json:"only"`
	Redo    bool     `json:"redo"`
}

// Start submits the job's task under the exclusive key of the site session
// it uses.
func (a *App) Start(ctx context.Context, job Job) (*collection.Worker, error) {
	if err := a.validate.Struct(job); err != nil {
		return nil, err
	}
	if job.Kind == JobNotices {
		return a.Pool.Submit(ctx, a.NoticeTask(), collection.WithKey(collection.NoticeKey))
	}
	acct, err := a.Account(job.Account)
	if err != nil {
		return nil, err
	}
	ca, err := a.collectionAccount(acct)
	if err != nil {
		return nil, err
	}

	switch job.Kind {
	case JobLogin:
		site := sites.Site(job.Site)
		task := &collection.LoginTask{Account: ca, Site: site, TrustAgent: job.TrustAgent, Retries: 2}
		if job.Method != "" {
			m, err := sites.ParseLoginMethod(job.Method)
			if err != nil {
				return nil, err
			}
			task.Method = &m
		}
		return a.Pool.Submit(ctx, task, collection.WithKey(collection.SessionKey(ca.Creds, site)))

	case JobSchedule, JobExams:
		sched, err := a.Schedule(acct)
		if err != nil {
			return nil, err
		}
		task := &collection.ScheduleTask{
			Account:     ca,
			Schedule:    sched,
			Term:        job.Term,
			SkipLessons: job.Kind == JobExams,
		}
		return a.Pool.Submit(ctx, task, collection.WithKey(collection.SessionKey(ca.Creds, collection.ScheduleSite(ca.Creds))))

	case JobAttendance:
		sched, err := a.Schedule(acct)
		if err != nil {
			return nil, err
		}
		task := collection.NewAttendanceTask(ca, sched)
		return a.Pool.Submit(ctx, task,
			collection.WithKey(collection.SessionKey(ca.Creds, sites.Attendance)),
			collection.WithMonitor(task.Monitor()))

	case JobScores:
		task, err := a.ScoreTask(acct, job.Force)
		if err != nil {
			return nil, err
		}
		return a.Pool.Submit(ctx, task, collection.WithKey(collection.SessionKey(ca.Creds, collection.ScoreSite(ca.Creds))))

	case JobEmptyRooms:
		task := &collection.EmptyRoomTask{Account: ca, Campus: job.Campus, Building: job.Building}
		if job.Date != "" {
			d, err := time.ParseInLocation(time.DateOnly, job.Date, time.Local)
			if err != nil {
				return nil, err
			}
			task.Date = d
		}
		return a.Pool.Submit(ctx, task, collection.WithKey(collection.SessionKey(ca.Creds, sites.Jwxt)))

	case JobEvaluate:
		task := &collection.EvaluateTask{
			Account: ca,
			Term:    job.Term,
			Grade:   job.Grade,
			Comment: job.Comment,
			Only:    job.Only,
			Redo:    job.Redo,
		}
		return a.Pool.Submit(ctx, task, collection.WithKey(collection.SessionKey(ca.Creds, sites.Jwxt)))
	}
	return nil, fmt.Errorf("unknown job %q", job.Kind)
}
