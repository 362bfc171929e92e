package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Requester is what the site clients need from a logged in session. Both
// *Session and a site session satisfy it.
type Requester interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
	PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error)
	PostJSON(ctx context.Context, rawURL string, body any) (*http.Response, error)
}

// the campus sites are loose about quoting numbers, these accept both

type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = FlexFloat(n)
	return nil
}

// FlexString keeps numbers as their literal text.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(b)
	return nil
}
