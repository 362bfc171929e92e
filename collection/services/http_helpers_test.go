package services_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

func TestRetriesAreLoggedOnTheSessionLogger(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	entry := logger.WithField("site", "jwxt")
	client := services.NewRetryClient(entry, nil, 2, nil)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, calls.Load())

	var retries []*log.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Data["try"] != nil {
			retries = append(retries, e)
		}
	}
	require.Len(t, retries, 1)
	assert.Equal(t, 1, retries[0].Data["try"])
	assert.Equal(t, "jwxt", retries[0].Data["site"])
}

func TestRespOrStatusErr(t *testing.T) {
	assert.NoError(t, services.RespOrStatusErr(&http.Response{StatusCode: 204}, nil))
	assert.ErrorIs(t, services.RespOrStatusErr(&http.Response{StatusCode: 503}, nil), services.ErrTemporaryNetworkFailure)
	assert.ErrorIs(t, services.RespOrStatusErr(nil, assert.AnError), services.ErrTemporaryNetworkFailure)
}
