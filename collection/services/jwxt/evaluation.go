package jwxt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/xjtu-toolbox/xjtutoolbox/collection/services"
)

const evaluationBaseURL = BaseURL + "wspjyyapp/"

const (
	evalSettingsPath = "modules/xspj/cxxtcs.do"
	evalListPath     = "modules/xspj/cxdwpj.do"
	evalItemsPath    = "modules/wj/cxwjzb.do"
	evalOptionsPath  = "modules/wj/cxxswjzbxq.do"
	evalSubmitPath   = "WspjwjController/addXsPgysjg.do"
	evalReopenPath   = "WspjwjController/updateCprZt.do"
)

// EvalKind is the round a questionnaire belongs to.
type EvalKind string

const (
	EvalFinal   EvalKind = "01"
	EvalMidterm EvalKind = "05"
)

// item types
const (
	ItemChoice = "01"
	ItemText   = "02"
	ItemScore  = "03"
)

var ErrBadGrade = errors.New("grade must be 1 to 5")

// DefaultComment answers text items when no comment is given.
const DefaultComment = "无"

// Questionnaire is one teacher and class to evaluate.
type Questionnaire struct {
	Teacher   string   `json:"BPJS"`
	Evaluatee string   `json:"BPR"`
	ClassID   string   `json:"JXBID"`
	CourseID  string   `json:"KCH"`
	Course    string   `json:"KCM"`
	Batch     string   `json:"PCDM"`
	Kind      EvalKind `json:"PGLXDM"`
	Content   string   `json:"PGNR"`
	Form      string   `json:"WJDM"`
	FormName  string   `json:"WJMC"`
	Term      string   `json:"XNXQDM"`
	Opens     string   `json:"KSSJ"`
	Closes    string   `json:"JSSJ"`
}

// Item is one question of a questionnaire.
type Item struct {
	Form     string              `json:"WJDM"`
	ID       string              `json:"ZBDM"`
	Type     string              `json:"TXDM"`
	Title    string              `json:"ZBMC"`
	Code     string              `json:"DADM"`
	Required services.FlexString `json:"SFBT"`
	Max      services.FlexString `json:"FZ"`
}

// Option is one choice of a choice item. Rank 1 is the best answer.
type Option struct {
	Item  string              `json:"ZBDM"`
	Value string              `json:"DAFXDM"`
	Rank  services.FlexString `json:"DAPX"`
}

// Answer is the submitted form of one item.
type Answer struct {
	Form        string `json:"WJDM"`
	Evaluator   string `json:"CPR"`
	Evaluatee   string `json:"BPR"`
	Content     string `json:"PGNR"`
	Item        string `json:"ZBDM"`
	Batch       string `json:"PCDM"`
	Type        string `json:"TXDM"`
	ClassID     string `json:"JXBID"`
	Value       string `json:"DA"`
	Title       string `json:"ZBMC"`
	Code        string `json:"DADM"`
	Text        string `json:"ZGDA"`
	Required    string `json:"SFBT"`
	Order       string `json:"DAXH"`
	Max         string `json:"FZ"`
	Attachable  string `json:"SFXYTJFJXX"`
	AttachNeed  string `json:"FJXXSFBT"`
	Attachments string `json:"FJXX"`
}

func (c *Client) evalRows(ctx context.Context, path, key string, form url.Values, out any) error {
	var reply struct {
		Datas map[string]struct {
			Rows json.RawMessage `json:"rows"`
		} `json:"datas"`
	}
	resp, err := c.r.PostForm(ctx, evaluationBaseURL+path, form)
	if err := services.DecodeJSON(resp, err, &reply); err != nil {
		return err
	}
	data, ok := reply.Datas[key]
	if !ok {
		return services.Unparseable("evaluation reply has no %s", key)
	}
	if err := json.Unmarshal(data.Rows, out); err != nil {
		return services.Unparseable("evaluation %s rows: %v", key, err)
	}
	return nil
}

// EvaluationTerm is the term the evaluation system is open for.
func (c *Client) EvaluationTerm(ctx context.Context) (string, error) {
	setting := `[{"name":"CSDM","value":"PJGLPJSJ","builder":"equal","linkOpt":"AND"},` +
		`{"name":"ZCSDM","value":"PJXNXQ","builder":"m_value_equal","linkOpt":"AND"}]`
	var rows []struct {
		CSZA string `json:"CSZA"`
	}
	if err := c.evalRows(ctx, evalSettingsPath, "cxxtcs", url.Values{"setting": {setting}}, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 || rows[0].CSZA == "" {
		return "", services.Unparseable("no evaluation term")
	}
	return rows[0].CSZA, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Questionnaires lists one round of a term, done or still open.
func (c *Client) Questionnaires(ctx context.Context, term string, kind EvalKind, done bool) ([]Questionnaire, error) {
	form := url.Values{
		"PGLXDM": {string(kind)},
		"SFPG":   {flag(done)},
		"SFKF":   {"1"},
		"SFFB":   {"1"},
		"XNXQDM": {term},
	}
	var out []Questionnaire
	if err := c.evalRows(ctx, evalListPath, "cxdwpj", form, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllQuestionnaires lists both rounds of term.
func (c *Client) AllQuestionnaires(ctx context.Context, term string, done bool) ([]Questionnaire, error) {
	var out []Questionnaire
	for _, kind := range []EvalKind{EvalMidterm, EvalFinal} {
		qs, err := c.Questionnaires(ctx, term, kind, done)
		if err != nil {
			return nil, err
		}
		out = append(out, qs...)
	}
	return out, nil
}

func (c *Client) Items(ctx context.Context, q Questionnaire) ([]Item, error) {
	var out []Item
	form := url.Values{"WJDM": {q.Form}, "JXBID": {q.ClassID}}
	if err := c.evalRows(ctx, evalItemsPath, "cxwjzb", form, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Options returns the choices of every choice item, keyed by item id.
func (c *Client) Options(ctx context.Context, q Questionnaire, username string, done bool) (map[string][]Option, error) {
	type cond struct {
		Name    string `json:"name"`
		Value   string `json:"value"`
		LinkOpt string `json:"linkOpt"`
		Builder string `json:"builder"`
	}
	conds := []cond{
		{"BPR", q.Evaluatee, "AND", "equal"},
		{"CPR", username, "AND", "equal"},
		{"JXBID", q.ClassID, "AND", "equal"},
		{"PGNR", q.Content, "AND", "equal"},
		{"WJDM", q.Form, "AND", "equal"},
		{"PCDM", q.Batch, "AND", "equal"},
	}
	setting, err := json.Marshal(conds)
	if err != nil {
		return nil, err
	}
	form := url.Values{
		"WJDM":         {q.Form},
		"CPR":          {username},
		"PCDM":         {q.Batch},
		"SFPG":         {flag(done)},
		"BPR":          {q.Evaluatee},
		"PGNR":         {q.Content},
		"querySetting": {string(setting)},
	}
	var rows []Option
	if err := c.evalRows(ctx, evalOptionsPath, "cxxswjzbxq", form, &rows); err != nil {
		return nil, err
	}
	out := map[string][]Option{}
	for _, o := range rows {
		out[o.Item] = append(out[o.Item], o)
	}
	return out, nil
}

// Fill answers every item at grade, 1 being the best of the five choice
// ranks. Score items get the matching share of their maximum and text
// items get comment.
func Fill(q Questionnaire, username string, items []Item, options map[string][]Option, grade int, comment string) ([]Answer, error) {
	if grade < 1 || grade > 5 {
		return nil, fmt.Errorf("%w: %d", ErrBadGrade, grade)
	}
	if comment == "" {
		comment = DefaultComment
	}
	out := make([]Answer, 0, len(items))
	for _, it := range items {
		a := Answer{
			Form:      it.Form,
			Evaluator: username,
			Evaluatee: q.Evaluatee,
			Content:   q.Content,
			Item:      it.ID,
			Batch:     q.Batch,
			Type:      it.Type,
			ClassID:   q.ClassID,
			Title:     it.Title,
			Code:      it.Code,
			Required:  string(it.Required),
			Order:     "1",
			Max:       string(it.Max),
		}
		if a.Required == "" {
			a.Required = "1"
		}
		switch it.Type {
		case ItemChoice:
			v, ok := closest(options[it.ID], grade)
			if !ok {
				return nil, services.Unparseable("item %q has no options", it.Title)
			}
			a.Value = v
		case ItemText:
			a.Text = comment
		case ItemScore:
			full, err := strconv.Atoi(string(it.Max))
			if err != nil {
				return nil, services.Unparseable("item %q has no maximum score", it.Title)
			}
			// grade 1 is full marks, each step down takes a fifth
			a.Value = strconv.Itoa(int(math.Round(float64(full) * float64(6-grade) / 5)))
		default:
			return nil, services.Unparseable("item %q has unknown type %s", it.Title, it.Type)
		}
		out = append(out, a)
	}
	return out, nil
}

// closest picks the option ranked grade, or the nearest rank when the item
// has fewer choices.
func closest(options []Option, grade int) (string, bool) {
	best, bestDiff := "", math.MaxFloat64
	for _, o := range options {
		rank, err := strconv.ParseFloat(string(o.Rank), 64)
		if err != nil {
			continue
		}
		if diff := math.Abs(rank - float64(grade)); diff < bestDiff {
			best, bestDiff = o.Value, diff
		}
	}
	return best, bestDiff != math.MaxFloat64
}

// the write endpoints take one requestParamStr form field holding JSON,
// and answer {"code":"0","datas":{"code":"0","msg":...}}
func (c *Client) evalWrite(ctx context.Context, path string, params map[string]string) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var reply struct {
		Code  services.FlexString `json:"code"`
		Datas struct {
			Code services.FlexString `json:"code"`
			Msg  string              `json:"msg"`
		} `json:"datas"`
	}
	resp, err := c.r.PostForm(ctx, evaluationBaseURL+path, url.Values{"requestParamStr": {string(raw)}})
	if err := services.DecodeJSON(resp, err, &reply); err != nil {
		return err
	}
	if reply.Code != "0" || reply.Datas.Code != "0" {
		msg := reply.Datas.Msg
		if msg == "" {
			msg = "jwxt rejected the questionnaire"
		}
		return services.NewServerError(services.CodeGeneric, msg)
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, q Questionnaire, answers []Answer) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	return c.evalWrite(ctx, evalSubmitPath, map[string]string{
		"WJDM":   q.Form,
		"PCDM":   q.Batch,
		"PGLY":   "1",
		"SFTJ":   "1",
		"WJYSJG": string(raw),
	})
}

// Reopen makes a submitted questionnaire editable again.
func (c *Client) Reopen(ctx context.Context, q Questionnaire, username string) error {
	state, err := json.Marshal([]map[string]string{{
		"WJDM":  q.Form,
		"PCDM":  q.Batch,
		"CPR":   username,
		"BPR":   q.Evaluatee,
		"PGNR":  q.Content,
		"JXBID": q.ClassID,
		"SFPG":  "0",
		"ZF":    "0.0",
		"PJYS":  "0",
	}})
	if err != nil {
		return err
	}
	return c.evalWrite(ctx, evalReopenPath, map[string]string{
		"WJDM":  q.Form,
		"PCDM":  q.Batch,
		"CPRXX": string(state),
	})
}
