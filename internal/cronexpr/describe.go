package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var monthNames = [...]string{
	"", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// 7 is Sunday as well; several cron dialects accept it.
var weekdayNames = [...]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// field describes how a single cron field is phrased.
type field struct {
	name   string
	single string // "at minute %s"
	span   string // "minutes %s through %s"
	list   string // "at minutes %s"
	step   string // "every %s minutes"
	value  func(n int) string
	alias  map[string]int
}

func itoa(n int) string { return strconv.Itoa(n) }

func clock(h int) string {
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h
	switch {
	case h == 0:
		h12 = 12
	case h > 12:
		h12 = h - 12
	}
	return strconv.Itoa(h12) + ":00 " + suffix
}

func monthName(n int) string {
	if n >= 1 && n < len(monthNames) {
		return monthNames[n]
	}
	return strconv.Itoa(n)
}

func weekdayName(n int) string {
	if n >= 0 && n < len(weekdayNames) {
		return weekdayNames[n]
	}
	return strconv.Itoa(n)
}

func aliases(start int, names ...string) map[string]int {
	m := make(map[string]int, len(names))
	for i, n := range names {
		m[n] = start + i
	}
	return m
}

var fieldSpecs = [FieldCount]field{
	{
		name: "minute", single: "at minute %s", span: "minutes %s through %s",
		list: "at minutes %s", step: "every %s minutes", value: itoa,
	},
	{
		name: "hour", single: "at %s", span: "from %s to %s",
		list: "at %s", step: "every %s hours", value: clock,
	},
	{
		name: "day-of-month", single: "on day %s of the month", span: "from day %s to %s of the month",
		list: "on days %s of the month", step: "every %s days", value: itoa,
	},
	{
		name: "month", single: "in %s", span: "from %s to %s",
		list: "in %s", step: "every %s months", value: monthName,
		alias: aliases(1, "JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"),
	},
	{
		name: "day-of-week", single: "on %s", span: "from %s to %s",
		list: "on %s", step: "every %s weekdays", value: weekdayName,
		alias: aliases(0, "SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"),
	},
}

// Describe renders a human readable description of expr, e.g.
// "30 14 * * 1-5" -> "at minute 30, at 2:00 PM, from Monday to Friday".
// Wildcard fields contribute nothing; an all-wildcard expression is "Every minute".
func Describe(expr string) (string, error) {
	parts, err := Fields(expr)
	if err != nil {
		return "", err
	}
	return describeFields(expr, parts)
}

func describeFields(expr string, parts []string) (string, error) {
	var out []string
	for i, raw := range parts {
		desc, err := fieldSpecs[i].describe(expr, raw)
		if err != nil {
			return "", err
		}
		if desc != "" {
			out = append(out, desc)
		}
	}
	if len(out) == 0 {
		return "Every minute", nil
	}
	return strings.Join(out, ", "), nil
}

func (f field) describe(expr, raw string) (string, error) {
	switch {
	case raw == "*" || raw == "?":
		return "", nil
	case strings.Contains(raw, "/"):
		base, step, ok := strings.Cut(raw, "/")
		if !ok || strings.Contains(step, "/") {
			return "", invalid(expr, "%s field %q: malformed step", f.name, raw)
		}
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return "", invalid(expr, "%s field %q: step %q is not a positive integer", f.name, raw, step)
		}
		if base != "*" {
			if _, err := f.element(expr, raw, base); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf(f.step, strconv.Itoa(n)), nil
	case strings.Contains(raw, ","):
		items := strings.Split(raw, ",")
		rendered := make([]string, 0, len(items))
		for _, item := range items {
			s, err := f.element(expr, raw, item)
			if err != nil {
				return "", err
			}
			rendered = append(rendered, s)
		}
		return fmt.Sprintf(f.list, strings.Join(rendered, ", ")), nil
	case strings.Contains(raw, "-"):
		lo, hi, err := f.bounds(expr, raw, raw)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(f.span, f.value(lo), f.value(hi)), nil
	default:
		n, err := f.number(expr, raw, raw)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(f.single, f.value(n)), nil
	}
}

// element renders one list item or step base: a number or an a-b range.
func (f field) element(expr, raw, item string) (string, error) {
	if strings.Contains(item, "-") {
		lo, hi, err := f.bounds(expr, raw, item)
		if err != nil {
			return "", err
		}
		return f.value(lo) + " to " + f.value(hi), nil
	}
	n, err := f.number(expr, raw, item)
	if err != nil {
		return "", err
	}
	return f.value(n), nil
}

func (f field) bounds(expr, raw, item string) (int, int, error) {
	a, b, _ := strings.Cut(item, "-")
	lo, err := f.number(expr, raw, a)
	if err != nil {
		return 0, 0, err
	}
	hi, err := f.number(expr, raw, b)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

func (f field) number(expr, raw, tok string) (int, error) {
	if n, ok := f.alias[strings.ToUpper(tok)]; ok {
		return n, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, invalid(expr, "%s field %q: %q is not a number", f.name, raw, tok)
	}
	return n, nil
}

// Description is an expression together with its rendering and upcoming fire times.
type Description struct {
	Expr        string
	Description string
	NextRuns    []time.Time
}

// Explain validates expr and returns its description and next n fire times.
func Explain(expr string, from time.Time, n int) (Description, error) {
	sched, err := Parse(expr)
	if err != nil {
		return Description{}, err
	}
	desc, err := Describe(expr)
	if err != nil {
		return Description{}, err
	}
	return Description{Expr: expr, Description: desc, NextRuns: nextN(sched, from, n)}, nil
}
