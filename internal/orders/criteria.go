package orders

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"p2precon/internal/model"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 10
	MaxPerPage     = 500

	dateLayout = "2006-01-02"
)

// Criteria is a normalized filter. A nil pointer means no constraint on that
// field; the empty string and "all" never reach this type.
type Criteria struct {
	Search     *string
	Side       *model.Side
	Status     *string
	Reconciled *bool
	// StartDate and EndDate are UTC calendar days, both inclusive.
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PerPage   int
}

// HasDateBound reports whether any date bound is set.
func (c Criteria) HasDateBound() bool {
	return c.StartDate != nil || c.EndDate != nil
}

// RawCriteria is the filter as it arrives from a caller, every field as text.
type RawCriteria struct {
	Search     string
	Side       string
	Status     string
	Reconciled string
	StartDate  string
	EndDate    string
	Page       string
	PerPage    string
}

// CriteriaFromQuery reads filter parameters from a URL query.
func CriteriaFromQuery(q url.Values) (Criteria, error) {
	return RawCriteria{
		Search:     q.Get("search"),
		Side:       q.Get("side"),
		Status:     q.Get("status"),
		Reconciled: q.Get("reconciled"),
		StartDate:  q.Get("start_date"),
		EndDate:    q.Get("end_date"),
		Page:       q.Get("page"),
		PerPage:    q.Get("per_page"),
	}.Normalize()
}

// unset collapses "", whitespace and "all" into a single "no constraint".
func unset(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "all") {
		return "", true
	}
	return v, false
}

// Normalize validates r and converts it into Criteria.
func (r RawCriteria) Normalize() (Criteria, error) {
	c := Criteria{Page: DefaultPage, PerPage: DefaultPerPage}

	if v, none := unset(r.Search); !none {
		c.Search = &v
	}

	if v, none := unset(r.Side); !none {
		side, ok := model.ParseSide(v)
		if !ok {
			return Criteria{}, fmt.Errorf("invalid side %q", v)
		}
		c.Side = &side
	}

	if v, none := unset(r.Status); !none {
		c.Status = &v
	}

	if v, none := unset(r.Reconciled); !none {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Criteria{}, fmt.Errorf("invalid reconciled %q", v)
		}
		c.Reconciled = &b
	}

	if v, none := unset(r.StartDate); !none {
		d, err := parseDay(v)
		if err != nil {
			return Criteria{}, fmt.Errorf("invalid start_date %q: %w", v, err)
		}
		c.StartDate = &d
	}

	if v, none := unset(r.EndDate); !none {
		d, err := parseDay(v)
		if err != nil {
			return Criteria{}, fmt.Errorf("invalid end_date %q: %w", v, err)
		}
		c.EndDate = &d
	}

	if v := strings.TrimSpace(r.Page); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Criteria{}, fmt.Errorf("invalid page %q", v)
		}
		c.Page = n
	}

	if v := strings.TrimSpace(r.PerPage); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPerPage {
			return Criteria{}, fmt.Errorf("invalid per_page %q", v)
		}
		c.PerPage = n
	}

	return c, nil
}

// parseDay accepts a calendar date or a full timestamp and truncates it to the UTC day.
func parseDay(v string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
