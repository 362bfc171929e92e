package testsso

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SiteData is what the interior sites answer with once logged in.
type SiteData struct {
	CurrentTerm string
	TermStart   string
	Lessons     []map[string]any
	Exams       []map[string]any

	NearTerm map[string]any
	Records  []map[string]any
	Flow     []map[string]any

	// keyed by term code, "*" answers every term
	Scores map[string][]map[string]any

	Campuses  []map[string]any
	Buildings []map[string]any
	Rooms     []Room

	EvalTerm       string
	Questionnaires []map[string]any
	// keyed by form code
	EvalItems   map[string][]map[string]any
	EvalOptions []map[string]any

	GmisCurrent string
	GmisTerms   []GmisTerm
	// degree courses, electives and requirements, header row first
	GmisScores [3][][]string
	Calendar   []map[string]any

	// keyed by host and path of the first page
	Notices map[string][]NoticeEntry
	// entries per notice page
	NoticePageSize int
}

// Room is a classroom of the empty room query, busy during the listed
// periods. Row is the reply row.
type Room struct {
	Campus   string
	Building string
	Busy     []int
	Row      map[string]any
}

func DefaultSiteData() *SiteData {
	return &SiteData{
		CurrentTerm: "2023-2024-2",
		TermStart:   "2024-02-26",
		Lessons: []map[string]any{
			{"KCM": "高等数学", "SKJS": "张老师", "JASMC": "East-101", "SKXQ": 3, "KSJC": 3, "JSJC": 4, "SKZC": "1111111111111111", "XNXQDM": "2023-2024-2"},
			{"KCM": "大学物理", "SKJS": "李老师", "JASMC": "West-202", "SKXQ": 1, "KSJC": 1, "JSJC": 2, "SKZC": "11111111", "XNXQDM": "2023-2024-2"},
		},
		Exams: []map[string]any{
			{"KCM": "高等数学", "KSSJMS": "2024-06-20 14:30-16:30", "JASMC": "East-101", "ZWH": "12", "XNXQDM": "2023-2024-2"},
		},
		NearTerm: map[string]any{"bh": 525, "name": "2023-2024-2", "startdate": "2024-02-26", "enddate": "2024-06-30", "weeks": 18},
		Records: []map[string]any{
			{
				"classWaterBean": map[string]any{"bh": 88001, "status": 2},
				"stuClassBean":   map[string]any{"termNo": "2023-2024-2"},
				"accountBean":    map[string]any{"startJc": 1, "endJc": 2, "week": 5, "checkdate": "2024-03-25"},
				"buildBean":      map[string]any{"name": "West"},
				"roomBean":       map[string]any{"roomnum": "202"},
				"teachNameList":  "李老师",
			},
		},
		Flow: []map[string]any{
			{"sBh": "77001", "eqno": "East-101", "watertime": "2024-03-27 10:00:00", "isdone": 1},
			{"sBh": "77002", "eqno": "Library", "watertime": "2024-03-27 12:00:00", "isdone": 0},
		},
		Scores: map[string][]map[string]any{
			"2023-2024-2": {
				{"id": "S1", "termCode": "2023-2024-2", "courseName": "高等数学", "score": 92, "coursePoint": 5, "passFlag": true},
				{"id": "S2", "termCode": "2023-2024-2", "courseName": "物理实验", "score": "A", "coursePoint": 1, "passFlag": true},
			},
		},
		Campuses: []map[string]any{{"id": "1", "name": "兴庆校区"}, {"id": "2", "name": "创新港校区"}},
		Buildings: []map[string]any{
			{"id": "101", "name": "主楼A"},
			{"id": "102", "name": "中2"},
		},
		Rooms: []Room{
			{Campus: "1", Building: "101", Busy: []int{1, 2, 3, 4}, Row: roomRow("A-101", "主楼A", 120)},
			{Campus: "1", Building: "101", Busy: []int{9, 10, 11}, Row: roomRow("A-102", "主楼A", 60)},
			{Campus: "1", Building: "101", Row: roomRow("A-999测试专用", "主楼A", 10)},
			{Campus: "1", Building: "101", Row: map[string]any{"JASMC": "A-000", "JXLDM_DISPLAY": "主楼A", "JASLXDM": nil}},
			{Campus: "1", Building: "102", Row: roomRow("中2-1101", "中2", 80)},
		},
		EvalTerm: "2023-2024-2",
		Questionnaires: []map[string]any{
			{"BPJS": "张老师", "BPR": "T001", "JXBID": "C001", "KCH": "MATH1", "KCM": "高等数学", "PCDM": "P1", "PGLXDM": "01", "PGNR": "C001", "WJDM": "W1", "WJMC": "理论课", "XNXQDM": "2023-2024-2"},
			{"BPJS": "李老师", "BPR": "T002", "JXBID": "C002", "KCH": "PHYS1", "KCM": "大学物理", "PCDM": "P1", "PGLXDM": "01", "PGNR": "C002", "WJDM": "W1", "WJMC": "理论课", "XNXQDM": "2023-2024-2"},
			{"BPJS": "王老师", "BPR": "T003", "JXBID": "C003", "KCH": "ENG1", "KCM": "大学英语", "PCDM": "P2", "PGLXDM": "05", "PGNR": "C003", "WJDM": "W1", "WJMC": "理论课", "XNXQDM": "2023-2024-2"},
		},
		EvalItems: map[string][]map[string]any{
			"W1": {
				{"WJDM": "W1", "ZBDM": "Z1", "TXDM": "01", "ZBMC": "讲课清晰", "DADM": "D1", "SFBT": "1", "FZ": "10"},
				{"WJDM": "W1", "ZBDM": "Z2", "TXDM": "03", "ZBMC": "总体评分", "DADM": "D2", "SFBT": "1", "FZ": 100},
				{"WJDM": "W1", "ZBDM": "Z3", "TXDM": "02", "ZBMC": "意见建议", "DADM": "D3", "SFBT": "0", "FZ": ""},
			},
		},
		EvalOptions: []map[string]any{
			{"ZBDM": "Z1", "DAFXDM": "A", "DAPX": 1},
			{"ZBDM": "Z1", "DAFXDM": "B", "DAPX": 2},
			{"ZBDM": "Z1", "DAFXDM": "C", "DAPX": 3},
		},
		GmisCurrent: "45",
		GmisTerms: []GmisTerm{
			{Name: "2023秋", Value: "44", Cells: []GmisCell{
				{Day: 2, Period: 1, Text: gmisCell("数值分析", "李老师", "主楼B-201", "1-2", "1-8,10周")},
			}},
			{Name: "2024春", Value: "45", Cells: []GmisCell{
				{Day: 1, Period: 3, Text: gmisCell("矩阵论", "张老师", "主楼A-101", "3-4", "1-16周")},
				{Day: 1, Period: 4, Text: gmisCell("矩阵论", "张老师", "主楼A-101", "3-4", "1-16周")},
				{Day: 4, Period: 7, Text: gmisCell("自然辩证法", "王老师", "中2-1101", "7-8", "2-16双周")},
				{Day: 5, Period: 1, Text: "课程：讲座"},
			}},
		},
		GmisScores: [3][][]string{
			{
				{"课程名称", "学分", "学期", "成绩", "考试日期"},
				{"矩阵论", "3", "2023秋", "91", "2024-01-10"},
				{"数值分析", "3", "2023秋", "", ""},
			},
			{
				{"课程名称", "学分", "学期", "成绩", "考试日期"},
				{"机器学习", "2", "2023秋", "84", "2024-01-12"},
			},
			{
				{"环节名称", "学分", "成绩", "日期"},
				{"学术报告", "1", "合格", "2024-01-15"},
				{"文献综述", "1", "76", "2024-01-16"},
			},
		},
		Calendar: []map[string]any{
			{"term_num": "第一学期", "year_num": "2023-2024", "start_date": "2023-09-04 00:00:00"},
			{"term_num": "第二学期", "year_num": "2023-2024", "start_date": "2024-02-26 00:00:00"},
			{"term_num": "第三学期", "year_num": "2023-2024", "start_date": "2024-07-08 00:00:00"},
		},
		Notices: map[string][]NoticeEntry{
			DeanHost + "/jxxx/jxtz2.htm": {
				{Title: "关于2024年春季学期选课的通知", Href: "/info/1011/1001.htm", Date: "2024-02-20", Tag: "选课"},
				{Title: "关于期末考试安排的通知", Href: "/info/1011/1002.htm", Date: "2024-02-18", Tag: "考试"},
				{Title: "关于补考报名的通知", Href: "/info/1011/1003.htm", Date: "2024-02-10", Tag: "考试"},
			},
			GraduateHost + "/tzgg/pygz.htm": {
				{Title: "研究生课程调整通知", Href: "/info/1021/2001.htm", Date: "2024-02-21"},
			},
			GraduateHost + "/tzgg/xwgz.htm": {
				{Title: "学位论文答辩安排", Href: "/info/1031/3001.htm", Date: "2024-02-19"},
			},
			SoftwareHost + "/xwgg/tzgg.htm": {
				{Title: "软件学院奖学金评定通知", Href: "/info/1041/4001.htm", Date: "2024-02-22"},
			},
		},
		NoticePageSize: 2,
	}
}

func roomRow(name, building string, seats int) map[string]any {
	return map[string]any{
		"JASMC":           name,
		"JXLDM_DISPLAY":   building,
		"JASLXDM":         "01",
		"JASLXDM_DISPLAY": "多媒体教室",
		"SKZWS":           seats,
		"KSZWS":           strconv.Itoa(seats / 2),
		"XXXQDM_DISPLAY":  "兴庆校区",
	}
}

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func rows(key string, r []map[string]any) map[string]any {
	if r == nil {
		r = []map[string]any{}
	}
	return map[string]any{"code": "0", "datas": map[string]any{key: map[string]any{"totalSize": len(r), "rows": r}}}
}

func (s *Server) serveJwxtAPI(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	switch r.URL.Path {
	case "/jwapp/sys/wdkb/modules/jshkcb/dqxnxq.do":
		writeJSON(w, rows("dqxnxq", []map[string]any{{"DM": s.Data.CurrentTerm, "MC": s.Data.CurrentTerm}}))
	case "/jwapp/sys/wdkb/modules/xskcb/xskcb.do":
		writeJSON(w, rows("xskcb", filterTerm(s.Data.Lessons, r.PostFormValue("XNXQDM"))))
	case "/jwapp/sys/studentWdksapApp/modules/wdksap/wdksap.do":
		writeJSON(w, rows("wdksap", filterTerm(s.Data.Exams, r.PostFormValue("XNXQDM"))))
	case "/jwapp/code/83a986fc-e677-400e-99a4-c7bb39c2ca35.do":
		writeJSON(w, map[string]any{"code": "0", "datas": map[string]any{"code": map[string]any{"rows": s.Data.Campuses}}})
	case "/jwapp/code/551fbcc3-cf07-4566-af1e-fc7ce272ddc1.do":
		writeJSON(w, map[string]any{"code": "0", "datas": map[string]any{"code": map[string]any{"rows": s.Data.Buildings}}})
	case "/jwapp/sys/kxjas/modules/kxjscx/cxkxjs.do":
		s.serveEmptyRooms(w, r)
	case "/jwapp/sys/wspjyyapp/modules/xspj/cxxtcs.do",
		"/jwapp/sys/wspjyyapp/modules/xspj/cxdwpj.do",
		"/jwapp/sys/wspjyyapp/modules/wj/cxwjzb.do",
		"/jwapp/sys/wspjyyapp/modules/wj/cxxswjzbxq.do",
		"/jwapp/sys/wspjyyapp/WspjwjController/addXsPgysjg.do",
		"/jwapp/sys/wspjyyapp/WspjwjController/updateCprZt.do":
		s.serveEvaluation(w, r)
	case "/jwapp/sys/wdkb/modules/jshkcb/cxjcs.do":
		if r.PostFormValue("XN")+"-"+r.PostFormValue("XQ") != s.Data.CurrentTerm {
			writeJSON(w, rows("cxjcs", nil))
			return
		}
		writeJSON(w, rows("cxjcs", []map[string]any{{"XQKSRQ": s.Data.TermStart + " 00:00:00"}}))
	default:
		http.NotFound(w, r)
	}
}

func filterTerm(all []map[string]any, term string) []map[string]any {
	out := []map[string]any{}
	for _, row := range all {
		if term == "" || row["XNXQDM"] == term {
			out = append(out, row)
		}
	}
	return out
}

// ---- attendance ----

type attendanceReply struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Data    any    `json:"data"`
}

func (s *Server) serveAttendance(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" || r.URL.Path == "":
		http.Redirect(w, r, "http://"+OrgHost+"/openplatform/oauth/authorize?appId=1372&redirectUri=http://bkkq.xjtu.edu.cn/berserker-auth/auth/attendance-pc/casReturn&responseType=code&scope=user_info&state=1234", http.StatusFound)
		return
	case r.URL.Path == "/berserker-auth/auth/attendance-pc/casReturn":
		token, ok := s.issueToken(r.URL.Query().Get("code"), func(string) string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		})
		if !ok {
			http.Error(w, "invalid code", http.StatusForbidden)
			return
		}
		http.Redirect(w, r, "http://"+AttendanceHost+"/attendance-student/index.html?token="+token+"&lang=zh", http.StatusFound)
		return
	case r.URL.Path == "/attendance-student/index.html":
		w.Write([]byte("<html><body>attendance</body></html>"))
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Synjones-Auth"), "bearer ")
	if _, ok := s.tokenUser(token); !ok {
		writeJSON(w, attendanceReply{Code: 401, Msg: "未登录"})
		return
	}
	var body map[string]any
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	switch r.URL.Path {
	case "/attendance-student/global/getNearTerm":
		writeJSON(w, attendanceReply{Success: true, Code: 200, Data: s.Data.NearTerm})
	case "/attendance-student/classWater/getClassWaterPage":
		writeJSON(w, attendanceReply{Success: true, Code: 200, Data: map[string]any{"list": s.Data.Records, "total": len(s.Data.Records)}})
	case "/attendance-student/waterList/page":
		if s.FlowDelay > 0 {
			select {
			case <-time.After(s.FlowDelay):
			case <-r.Context().Done():
				return
			}
		}
		writeJSON(w, attendanceReply{Success: true, Code: 200, Data: map[string]any{"list": s.Data.Flow, "totalCount": len(s.Data.Flow)}})
	default:
		http.NotFound(w, r)
	}
}

// ---- jwapp ----

func (s *Server) serveJwapp(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/app/index":
		token, ok := s.issueToken(r.URL.Query().Get("code"), func(username string) string {
			t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": username, "exp": time.Now().Add(time.Hour).Unix()})
			signed, _ := t.SignedString([]byte(ticketSecret))
			return signed
		})
		if !ok {
			http.Error(w, "invalid code", http.StatusForbidden)
			return
		}
		http.Redirect(w, r, "http://"+JwappHost+"/app/index.html?token="+token, http.StatusFound)
		return
	case "/app/index.html":
		w.Write([]byte("<html><body>jwapp</body></html>"))
		return
	}

	if _, ok := s.tokenUser(r.Header.Get("Authorization")); !ok {
		writeJSON(w, map[string]any{"code": 401, "msg": "token invalid"})
		return
	}
	switch r.URL.Path {
	case "/api/biz/v410/score/termScore":
		var body struct {
			TermCode string `json:"termCode"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		var terms []map[string]any
		for term, list := range s.Data.Scores {
			if body.TermCode == "*" || body.TermCode == term {
				terms = append(terms, map[string]any{"termCode": term, "termName": term, "scoreList": list})
			}
		}
		if terms == nil {
			terms = []map[string]any{}
		}
		writeJSON(w, map[string]any{"code": 200, "msg": "操作成功", "data": map[string]any{"termScoreList": terms}})
	default:
		http.NotFound(w, r)
	}
}
