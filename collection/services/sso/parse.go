package sso

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var mfaEnabledPattern = regexp.MustCompile(`["']?mfaEnabled["']?\s*[:=]\s*["']?(true|false)`)

type loginPage struct {
	execution  string
	mfaEnabled bool
	alert      string
	hasAlert   bool
	chooser    *chooserForm
}

type chooserForm struct {
	action  *url.URL
	fields  url.Values
	radio   string
	choices []AccountChoice
}

func parseLoginPage(body []byte, base *url.URL) (loginPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return loginPage{}, err
	}
	var page loginPage

	page.execution, _ = doc.Find(`input[name="execution"]`).First().Attr("value")

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := mfaEnabledPattern.FindStringSubmatch(s.Text()); m != nil {
			page.mfaEnabled = m[1] == "true"
			return false
		}
		return true
	})

	if alert := doc.Find("el-alert").First(); alert.Length() > 0 {
		page.hasAlert = true
		page.alert, _ = alert.Attr("title")
		if page.alert == "" {
			page.alert = strings.TrimSpace(alert.Text())
		}
	}

	page.chooser = parseChooser(doc, base)
	return page, nil
}

// the identity chooser is the only portal form made of radio buttons
func parseChooser(doc *goquery.Document, base *url.URL) *chooserForm {
	radios := doc.Find(`form input[type="radio"]`)
	if radios.Length() == 0 {
		return nil
	}
	form := radios.First().Closest("form")
	action, _ := form.Attr("action")
	target, err := base.Parse(action)
	if err != nil {
		return nil
	}

	chooser := &chooserForm{action: target, fields: url.Values{}}
	form.Find(`input[type="hidden"]`).Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		value, _ := s.Attr("value")
		if name != "" {
			chooser.fields.Set(name, value)
		}
	})
	radios.Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		value, _ := s.Attr("value")
		chooser.radio = name
		label := strings.TrimSpace(s.Closest("label").Text())
		if label == "" {
			if id, ok := s.Attr("id"); ok {
				label = strings.TrimSpace(doc.Find(`label[for="` + id + `"]`).Text())
			}
		}
		chooser.choices = append(chooser.choices, AccountChoice{Name: label, Label: value})
	})
	return chooser
}
