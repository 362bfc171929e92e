package jwapp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/jwapp"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sites"
	"github.com/xjtu-toolbox/xjtutoolbox/collection/services/sso/testsso"
)

func TestTermScores(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	student := testsso.User{Username: "2210000001", Password: "pw"}
	mock := testsso.NewServer(ctx, student)
	s, err := sites.NewRegistry(sites.Config{Session: mock.SessionOptions()}).Get(sites.Jwapp)
	require.NoError(t, err)
	require.NoError(t, s.Login(ctx, sites.Credentials{Username: student.Username, Password: student.Password}))

	c := jwapp.New(s)
	terms, err := c.TermScores(ctx, "")
	require.NoError(t, err)
	require.Len(t, terms, 1)
	require.Len(t, terms[0].Scores, 2)
	assert.Equal(t, "92", terms[0].Scores[0].Score)
	assert.Equal(t, "A", terms[0].Scores[1].Score)
	assert.Equal(t, 5.0, terms[0].Scores[0].Credit)

	none, err := c.TermScores(ctx, "2000-2001-1")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScoresNeedToken(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mock := testsso.NewServer(ctx)
	_, err := jwapp.New(mock.NewSession()).TermScores(ctx, jwapp.AllTerms)
	assert.Error(t, err)
}
