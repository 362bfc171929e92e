// Package jwapp reads scores from the mobile academic app.
package jwapp

import (
	"context"
	"encoding/json"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const BaseURL = "http://jwapp.xjtu.edu.cn/api/biz/v410/"

const codeOK = 200

// AllTerms asks for every term at once.
const AllTerms = "*"

type Score struct {
	ID         string
	Term       string
	CourseName string
	// numeric scores are kept as their text, graded ones as the grade
	Score  string
	Credit float64
	Passed bool
}

type TermScores struct {
	Term   string
	Name   string
	Scores []Score
}

type Client struct {
	r services.Requester
}

func New(r services.Requester) *Client {
	return &Client{r: r}
}

type scoreJSON struct {
	ID          services.FlexString `json:"id"`
	TermCode    string              `json:"termCode"`
	CourseName  string              `json:"courseName"`
	Score       services.FlexString `json:"score"`
	CoursePoint services.FlexFloat  `json:"coursePoint"`
	PassFlag    bool                `json:"passFlag"`
}

// TermScores returns the scores of term, or of every term for AllTerms.
func (c *Client) TermScores(ctx context.Context, term string) ([]TermScores, error) {
	if term == "" {
		term = AllTerms
	}
	var reply struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	resp, err := c.r.PostJSON(ctx, BaseURL+"score/termScore", map[string]string{"termCode": term})
	if err := services.DecodeJSON(resp, err, &reply); err != nil {
		return nil, err
	}
	if reply.Code != codeOK {
		return nil, services.NewServerError(reply.Code, reply.Msg)
	}
	var data struct {
		TermScoreList []struct {
			TermCode  string      `json:"termCode"`
			TermName  string      `json:"termName"`
			ScoreList []scoreJSON `json:"scoreList"`
		} `json:"termScoreList"`
	}
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return nil, services.Unparseable("score list: %v", err)
	}
	out := make([]TermScores, 0, len(data.TermScoreList))
	for _, t := range data.TermScoreList {
		ts := TermScores{Term: t.TermCode, Name: t.TermName}
		for _, s := range t.ScoreList {
			ts.Scores = append(ts.Scores, Score{
				ID:         string(s.ID),
				Term:       s.TermCode,
				CourseName: s.CourseName,
				Score:      string(s.Score),
				Credit:     float64(s.CoursePoint),
				Passed:     s.PassFlag,
			})
		}
		out = append(out, ts)
	}
	return out, nil
}
