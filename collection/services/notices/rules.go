package notices

import (
	"fmt"
	"strings"
)

type FilterKind string

const (
	TitleIncludes FilterKind = "title_include"
	TitleExcludes FilterKind = "title_exclude"
	TagIncludes   FilterKind = "tag_include"
	TagExcludes   FilterKind = "tag_exclude"
)

// Filter keeps or drops a notice by one condition.
type Filter struct {
	Kind  FilterKind `mapstructure:"kind" json:"kind" validate:"oneof=title_include title_exclude tag_include tag_exclude"`
	Value string     `mapstructure:"value" json:"value" validate:"required"`
}

func (f Filter) Keep(n Notice) bool {
	switch f.Kind {
	case TitleIncludes:
		return strings.Contains(n.Title, f.Value)
	case TitleExcludes:
		return !strings.Contains(n.Title, f.Value)
	case TagIncludes:
		return n.HasTag(f.Value)
	case TagExcludes:
		return !n.HasTag(f.Value)
	}
	return false
}

func (f Filter) String() string {
	switch f.Kind {
	case TitleIncludes:
		return fmt.Sprintf("title contains %q", f.Value)
	case TitleExcludes:
		return fmt.Sprintf("title lacks %q", f.Value)
	case TagIncludes:
		return fmt.Sprintf("tagged %q", f.Value)
	case TagExcludes:
		return fmt.Sprintf("not tagged %q", f.Value)
	}
	return "unknown filter " + string(f.Kind)
}

// Ruleset keeps a notice only when every filter does.
type Ruleset []Filter

func (r Ruleset) Keep(n Notice) bool {
	for _, f := range r {
		if !f.Keep(n) {
			return false
		}
	}
	return true
}

// Subscription is a watched source with its rulesets. A notice passes
// when any ruleset keeps it; no rulesets keeps everything.
type Subscription struct {
	Source Source    `mapstructure:"source" json:"source" validate:"oneof=jwc gs se"`
	Rules  []Ruleset `mapstructure:"rules" json:"rules" validate:"dive,dive"`
}

func (s Subscription) Keep(n Notice) bool {
	if len(s.Rules) == 0 {
		return true
	}
	for _, r := range s.Rules {
		if r.Keep(n) {
			return true
		}
	}
	return false
}

// Select applies the subscription to notices of its source.
func (s Subscription) Select(all []Notice) []Notice {
	var out []Notice
	for _, n := range all {
		if n.Source == s.Source && s.Keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// Unseen returns the notices of current whose key is not in seen, in order.
func Unseen(seen []string, current []Notice) []Notice {
	known := make(map[string]bool, len(seen))
	for _, k := range seen {
		known[k] = true
	}
	var out []Notice
	for _, n := range current {
		if !known[n.Key()] {
			out = append(out, n)
		}
	}
	return out
}
