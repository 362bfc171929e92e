package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

type workerView struct {
	ID      string             `json:"id"`
	Task    string             `json:"task"`
	Key     string             `json:"key,omitempty"`
	Stopped bool               `json:"stopped"`
	Prompt  *collection.Prompt `json:"prompt,omitempty"`
}

func viewOf(w *collection.Worker) workerView {
	return workerView{
		ID:      w.ID(),
		Task:    w.TaskName(),
		Key:     w.Key(),
		Stopped: !w.CanRun(),
		Prompt:  w.Pending(),
	}
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	running := s.app.Pool.Running()
	out := make([]workerView, len(running))
	for i, wk := range running {
		out[i] = viewOf(wk)
	}
	writeJSON(w, http.StatusOK, out)
}

// startWorker takes an app.Job. Workers outlive the request, so they get
// the server's lifetime rather than the request context.
func (s *Server) startWorker(w http.ResponseWriter, r *http.Request) {
	var job app.Job
	if !decode(w, r, &job) {
		return
	}
	wk, err := s.app.Start(s.ctx, job)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, viewOf(wk))
}

func (s *Server) stopWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workerID")
	if !s.app.Pool.Stop(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no running worker %s", id)})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) answerWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workerID")
	wk, ok := s.app.Pool.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("no running worker %s", id)})
		return
	}
	var answer collection.Answer
	if !decode(w, r, &answer) {
		return
	}
	if err := wk.Answer(answer); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
