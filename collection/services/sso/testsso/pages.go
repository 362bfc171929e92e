package testsso

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
)

// ---- jwxt empty rooms ----

func (s *Server) serveEmptyRooms(w http.ResponseWriter, r *http.Request) {
	from, _ := strconv.Atoi(r.PostFormValue("KSJC"))
	to, _ := strconv.Atoi(r.PostFormValue("JSJC"))
	out := []map[string]any{}
	for _, room := range s.Data.Rooms {
		if room.Campus != r.PostFormValue("XXXQDM") || room.Building != r.PostFormValue("JXLDM") {
			continue
		}
		free := true
		if from != 0 || to != 0 {
			for _, p := range room.Busy {
				if p >= from && p <= to {
					free = false
				}
			}
		}
		if free {
			out = append(out, room.Row)
		}
	}
	writeJSON(w, rows("cxkxjs", out))
}

// ---- jwxt course evaluation ----

func evalKey(classID, evaluatee string) string { return classID + "|" + evaluatee }

// Evaluation returns the answers submitted for one questionnaire.
func (s *Server) Evaluation(classID, evaluatee string) ([]map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.evaluated[evalKey(classID, evaluatee)]
	return a, ok
}

func evalOK(w http.ResponseWriter) {
	writeJSON(w, map[string]any{"code": "0", "datas": map[string]any{"code": "0", "msg": "成功"}})
}

func evalRejected(w http.ResponseWriter, msg string) {
	writeJSON(w, map[string]any{"code": "0", "datas": map[string]any{"code": "1", "msg": msg}})
}

func (s *Server) serveEvaluation(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]
	switch name {
	case "cxxtcs.do":
		writeJSON(w, rows("cxxtcs", []map[string]any{{"CSZA": s.Data.EvalTerm}}))
	case "cxdwpj.do":
		done := r.PostFormValue("SFPG") == "1"
		out := []map[string]any{}
		s.mu.Lock()
		for _, q := range s.Data.Questionnaires {
			if q["PGLXDM"] != r.PostFormValue("PGLXDM") || q["XNXQDM"] != r.PostFormValue("XNXQDM") {
				continue
			}
			_, submitted := s.evaluated[evalKey(fmt.Sprint(q["JXBID"]), fmt.Sprint(q["BPR"]))]
			if submitted == done {
				out = append(out, q)
			}
		}
		s.mu.Unlock()
		writeJSON(w, rows("cxdwpj", out))
	case "cxwjzb.do":
		writeJSON(w, rows("cxwjzb", s.Data.EvalItems[r.PostFormValue("WJDM")]))
	case "cxxswjzbxq.do":
		writeJSON(w, rows("cxxswjzbxq", s.Data.EvalOptions))
	case "addXsPgysjg.do":
		var params map[string]string
		var answers []map[string]any
		if json.Unmarshal([]byte(r.PostFormValue("requestParamStr")), &params) != nil ||
			json.Unmarshal([]byte(params["WJYSJG"]), &answers) != nil || len(answers) == 0 {
			evalRejected(w, "参数错误")
			return
		}
		for _, a := range answers {
			if a["DA"] == "" && a["ZGDA"] == "" {
				evalRejected(w, fmt.Sprintf("%v 未作答", a["ZBMC"]))
				return
			}
		}
		s.mu.Lock()
		s.evaluated[evalKey(fmt.Sprint(answers[0]["JXBID"]), fmt.Sprint(answers[0]["BPR"]))] = answers
		s.mu.Unlock()
		evalOK(w)
	case "updateCprZt.do":
		var params map[string]string
		var states []map[string]string
		if json.Unmarshal([]byte(r.PostFormValue("requestParamStr")), &params) != nil ||
			json.Unmarshal([]byte(params["CPRXX"]), &states) != nil || len(states) == 0 {
			evalRejected(w, "参数错误")
			return
		}
		s.mu.Lock()
		for _, st := range states {
			delete(s.evaluated, evalKey(st["JXBID"], st["BPR"]))
		}
		s.mu.Unlock()
		evalOK(w)
	default:
		http.NotFound(w, r)
	}
}

// ---- gmis ----

const gmisCookie = "GMIS_SESSION"

type GmisTerm struct {
	Name  string
	Value string
	Cells []GmisCell
}

// GmisCell is one filled timetable cell; Text is the cell markup.
type GmisCell struct {
	Day    int
	Period int
	Text   string
}

func gmisCell(course, teacher, room, periods, weeks string) string {
	return fmt.Sprintf("课程：%s<br>班级：研2301<br>教师：%s<br>教室：%s<br>节次：%s<br>周次：%s", course, teacher, room, periods, weeks)
}

func (s *Server) serveGmis(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("ticket") != "" || !s.hasSiteCookie(r, gmisCookie) || !strings.HasPrefix(r.URL.Path, "/pyxx/pygl/") {
		s.serveCookieSite(w, r, gmisCookie, false, nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch path := strings.TrimPrefix(r.URL.Path, "/pyxx/pygl/"); {
	case path == "xskbcx":
		w.Write([]byte(s.gmisTimetable(s.Data.GmisCurrent)))
	case strings.HasPrefix(path, "xskbcx/index/"):
		value := strings.TrimPrefix(path, "xskbcx/index/")
		for _, t := range s.Data.GmisTerms {
			if t.Value == value {
				w.Write([]byte(s.gmisTimetable(value)))
				return
			}
		}
		http.NotFound(w, r)
	case path == "xscjcx/index":
		w.Write([]byte(s.gmisScores()))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) gmisTimetable(value string) string {
	var b strings.Builder
	b.WriteString(`<html><body><select id="drpxq" name="drpxq">`)
	var cells []GmisCell
	for _, t := range s.Data.GmisTerms {
		selected := ""
		if t.Value == value {
			selected = ` selected="selected"`
			cells = t.Cells
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, t.Value, selected, t.Name)
	}
	b.WriteString(`</select><table id="kb"></table><script type="text/javascript">var td;`)
	for _, c := range cells {
		fmt.Fprintf(&b, "\ntd=document.getElementById(\"td_%d_%d\");\nif (td.innerHTML!=\"\") td.innerHTML+=\"<br><br>\";\ntd.innerHTML+=\"%s\";", c.Day, c.Period, c.Text)
	}
	b.WriteString("\n</script></body></html>")
	return b.String()
}

func (s *Server) gmisScores() string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, table := range s.Data.GmisScores {
		b.WriteString(`<table id="sample-table-1">`)
		for _, row := range table {
			b.WriteString("<tr>")
			for _, cell := range row {
				fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(cell))
			}
			b.WriteString("</tr>")
		}
		b.WriteString("</table>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (s *Server) serveCalendar(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/EIP/schoolcalendar/terms.htm" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, map[string]any{"data": s.Data.Calendar})
}

// ---- notice boards ----

type NoticeEntry struct {
	Title string
	Href  string
	Date  string
	// dean's office entries carry their category
	Tag string
}

// serveBoard renders page 1 at the board path and page n at
// <board>/<n>.htm, the way the campus CMS does.
func (s *Server) serveBoard(w http.ResponseWriter, r *http.Request, host string) {
	path := r.URL.Path
	page := 1
	entries, ok := s.Data.Notices[host+path]
	if !ok {
		i := strings.LastIndexByte(path, '/')
		n, err := strconv.Atoi(strings.TrimSuffix(path[i+1:], ".htm"))
		if entries, ok = s.Data.Notices[host+path[:i]+".htm"]; !ok || err != nil || n < 2 {
			http.NotFound(w, r)
			return
		}
		page = n
	}
	size := s.Data.NoticePageSize
	if size <= 0 {
		size = len(entries)
	}
	from := (page - 1) * size
	if from >= len(entries) {
		http.NotFound(w, r)
		return
	}
	to := min(from+size, len(entries))
	// links are relative to the page they sit on
	next := ""
	if to < len(entries) {
		if page == 1 {
			board := strings.TrimSuffix(path[strings.LastIndexByte(path, '/')+1:], ".htm")
			next = fmt.Sprintf("%s/%d.htm", board, page+1)
		} else {
			next = fmt.Sprintf("%d.htm", page+1)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(renderBoard(host, entries[from:to], next)))
}

func pager(next string) string {
	if next == "" {
		return `<div class="pb"><span><span>上页</span><span>下页</span><span>尾页</span></span></div>`
	}
	return fmt.Sprintf(`<div class="pb"><span><span>上页</span><span><a href="%s">下页</a></span><span>尾页</span></span></div>`, next)
}

func renderBoard(host string, entries []NoticeEntry, next string) string {
	var items strings.Builder
	for _, e := range entries {
		title, href := html.EscapeString(e.Title), html.EscapeString(e.Href)
		switch host {
		case DeanHost:
			fmt.Fprintf(&items, `<li><a href="%s" target="_blank"><i>[%s]</i>%s</a><span>%s</span></li>`, href, html.EscapeString(e.Tag), title, e.Date)
		case SoftwareHost:
			fmt.Fprintf(&items, `<li><a href="%s"><p><span>%s</span></p><p>%s</p></a></li>`, href, e.Date, title)
		default:
			fmt.Fprintf(&items, `<li><a href="%s">%s</a><span>%s</span></li>`, href, title, e.Date)
		}
	}
	list := "<ul>" + items.String() + "</ul>" + pager(next)
	switch host {
	case DeanHost:
		return `<html><body><div id="ny-main"><div>位置</div><div>栏目</div><div>` + list + `</div></div></body></html>`
	case SoftwareHost:
		return `<html><body><main><div><div>banner</div><div><div>栏目</div><div>` + list + `</div></div></div></main></body></html>`
	}
	return `<html><body><div id="wrapper"><div>top</div><div>nav</div><div>banner</div><div><div><div>side</div><div><div>位置</div><div>` +
		list + `</div></div></div></div></div></body></html>`
}
