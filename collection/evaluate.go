package collection

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/jwxt"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
)

type EvaluateSummary struct {
	Term   string   `json:"term"`
	Done   []string `json:"done"`
	Failed []string `json:"failed"`
}

// EvaluateTask fills every open course evaluation questionnaire with one
// grade. Redo reopens and resubmits questionnaires already handed in.
type EvaluateTask struct {
	Account
	// empty asks jwxt for the term being evaluated
	Term string
	// 1 is the best, 5 the worst; 0 means 1
	Grade   int
	Comment string
	// course names, matched by substring; empty takes every course
	Only []string
	Redo bool
}

func (t *EvaluateTask) Name() string { return "evaluate" }

func (t *EvaluateTask) wanted(q jwxt.Questionnaire) bool {
	if len(t.Only) == 0 {
		return true
	}
	for _, name := range t.Only {
		if strings.Contains(q.Course, name) {
			return true
		}
	}
	return false
}

func (t *EvaluateTask) Run(ctx context.Context, w *Worker) error {
	grade := t.Grade
	if grade == 0 {
		grade = 1
	}
	if grade < 1 || grade > 5 {
		return jwxt.ErrBadGrade
	}
	w.Progress(0)
	ss, err := t.session(ctx, w, sites.Jwxt)
	if err != nil {
		return err
	}
	client := jwxt.New(ss, w.Logger())

	term := t.Term
	if term == "" {
		if term, err = client.EvaluationTerm(ctx); err != nil {
			return err
		}
	}
	w.Message(fmt.Sprintf("Listing the questionnaires of %s", term))
	open, err := client.AllQuestionnaires(ctx, term, false)
	if err != nil {
		return err
	}
	var todo []jwxt.Questionnaire
	for _, q := range open {
		if t.wanted(q) {
			todo = append(todo, q)
		}
	}

	summary := EvaluateSummary{Term: term}
	if t.Redo {
		done, err := client.AllQuestionnaires(ctx, term, true)
		if err != nil {
			return err
		}
		for _, q := range done {
			if !t.wanted(q) {
				continue
			}
			if err := client.Reopen(ctx, q, t.Creds.Username); err != nil {
				w.Logger().WithError(err).WithField("course", q.Course).Warn("could not reopen questionnaire")
				summary.Failed = append(summary.Failed, q.Course)
				continue
			}
			todo = append(todo, q)
		}
	}
	w.Progress(10)

	for i, q := range todo {
		if !w.CanRun() {
			return ErrStopped
		}
		w.Message(fmt.Sprintf("Evaluating %s (%s)", q.Course, q.Teacher))
		if err := t.submit(ctx, client, q, grade); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Logger().WithError(err).WithFields(log.Fields{"course": q.Course, "teacher": q.Teacher}).Warn("questionnaire not submitted")
			summary.Failed = append(summary.Failed, q.Course)
		} else {
			summary.Done = append(summary.Done, q.Course)
		}
		w.Progress(10 + 90*(i+1)/len(todo))
	}

	w.Progress(100)
	w.Message(fmt.Sprintf("Submitted %d questionnaires, %d failed", len(summary.Done), len(summary.Failed)))
	w.SetResult(summary)
	return nil
}

func (t *EvaluateTask) submit(ctx context.Context, client *jwxt.Client, q jwxt.Questionnaire, grade int) error {
	items, err := client.Items(ctx, q)
	if err != nil {
		return err
	}
	options, err := client.Options(ctx, q, t.Creds.Username, false)
	if err != nil {
		return err
	}
	answers, err := jwxt.Fill(q, t.Creds.Username, items, options, grade, t.Comment)
	if err != nil {
		return err
	}
	return client.Submit(ctx, q, answers)
}
