package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/xjtu-toolbox/xjtutoolbox/collection"
	"github.com/xjtu-toolbox/xjtutoolbox/data/schedule"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/accounts"
	"github.com/xjtu-toolbox/xjtutoolbox/internal/app"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func statusOf(err error) int {
	var invalid validator.ValidationErrors
	switch {
	case errors.Is(err, accounts.ErrNoAccount),
		errors.Is(err, app.ErrNoCurrentAccount),
		errors.Is(err, schedule.ErrNotFound),
		errors.Is(err, schedule.ErrNoTerm),
		errors.Is(err, schedule.ErrNoTermStart):
		return http.StatusNotFound
	case errors.Is(err, collection.ErrBusy),
		errors.Is(err, schedule.ErrWeekLocked),
		errors.Is(err, collection.ErrNoPrompt),
		errors.Is(err, collection.ErrAnswerGiven),
		errors.Is(err, accounts.ErrAmbiguous):
		return http.StatusConflict
	case errors.As(err, &invalid), errors.Is(err, schedule.ErrBadTerm):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	logger := s.logger.WithError(err).WithField("path", r.URL.Path)
	if status == http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("request refused")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return false
	}
	return true
}

type accountView struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Type     string `json:"type"`
	Current  bool   `json:"current"`
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	current, _ := s.app.Accounts.Current()
	all := s.app.Accounts.Accounts()
	out := make([]accountView, len(all))
	for i, a := range all {
		out[i] = accountView{
			UUID:     a.UUID,
			Username: a.Username,
			Nickname: a.Nickname,
			Type:     a.Type.String(),
			Current:  a.UUID == current.UUID,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type useAccountRequest struct {
	Account string `json:"account"`
}

func (s *Server) useAccount(w http.ResponseWriter, r *http.Request) {
	var req useAccountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.app.Accounts.SetCurrent(req.Account); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := s.app.Notifier.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) dismissNotification(w http.ResponseWriter, r *http.Request) {
	s.app.Notifier.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}
