// Package cronexpr validates 5-field cron expressions, computes upcoming fire
// times and renders crontab.guru style descriptions. Everything here is pure so
// it can run inside request handlers.
package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldCount is the number of whitespace separated fields in an expression:
// minute, hour, day-of-month, month, day-of-week.
const FieldCount = 5

var ErrInvalidExpression = errors.New("invalid cron expression")

// InvalidExpressionError carries the rejected input and why it was rejected.
type InvalidExpressionError struct {
	Expr   string
	Reason string
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %s", e.Expr, e.Reason)
}

func (e *InvalidExpressionError) Is(target error) bool {
	return target == ErrInvalidExpression
}

func invalid(expr, format string, args ...any) error {
	return &InvalidExpressionError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}

// neverFiresFrom sits just before a leap day so "0 0 29 2 *" stays valid.
var neverFiresFrom = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Parser is shared by the evaluator and the scheduler so both agree on syntax.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Fields splits expr and checks the field count. The count check runs before
// any field-level parsing.
func Fields(expr string) ([]string, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, invalid(expr, "expression is empty")
	}
	fields := strings.Fields(expr)
	if len(fields) != FieldCount {
		return nil, invalid(expr, "expected %d fields, got %d", FieldCount, len(fields))
	}
	return fields, nil
}

// Parse validates expr and returns the schedule used to compute fire times.
func Parse(expr string) (cron.Schedule, error) {
	fields, err := Fields(expr)
	if err != nil {
		return nil, err
	}
	sched, err := Parser.Parse(strings.Join(normalize(fields), " "))
	if err != nil {
		return nil, invalid(expr, "%s", err.Error())
	}
	// the describer is stricter about integers than robfig, keep both in agreement
	if _, err := describeFields(expr, fields); err != nil {
		return nil, err
	}
	// robfig gives up after five years, so a date that never occurs
	// (Feb 30, Apr 31) parses but has no fire time
	if sched.Next(neverFiresFrom).IsZero() {
		return nil, invalid(expr, "never fires")
	}
	return sched, nil
}

func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextFireTimes returns the next n fire times after from, strictly increasing.
// Times are expressed in from's location.
func NextFireTimes(expr string, from time.Time, n int) ([]time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return nextN(sched, from, n), nil
}

func nextN(sched cron.Schedule, from time.Time, n int) []time.Time {
	if n <= 0 {
		return []time.Time{}
	}
	out := make([]time.Time, 0, n)
	t := from
	for len(out) < n {
		next := sched.Next(t)
		if next.IsZero() {
			// Parse rejects schedules that never fire; this only guards the loop
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

// Next returns the first fire time after from, or the zero time when expr is invalid.
func Next(expr string, from time.Time) time.Time {
	times, err := NextFireTimes(expr, from, 1)
	if err != nil || len(times) == 0 {
		return time.Time{}
	}
	return times[0]
}

// normalize rewrites day-of-week 7 (Sunday in some dialects) to 0, which is
// the only Sunday robfig accepts. Describe keeps reading the original text.
func normalize(fields []string) []string {
	out := append([]string(nil), fields...)
	items := strings.Split(out[4], ",")
	var rewritten []string
	for _, item := range items {
		rewritten = append(rewritten, normalizeWeekday(item)...)
	}
	out[4] = strings.Join(rewritten, ",")
	return out
}

func normalizeWeekday(item string) []string {
	base, step, hasStep := strings.Cut(item, "/")
	lo, hi, isRange := strings.Cut(base, "-")
	switch {
	case !isRange && base == "7":
		if hasStep {
			return []string{"0/" + step}
		}
		return []string{"0"}
	case isRange && hi == "7":
		if lo == "7" {
			return []string{"0"}
		}
		from, err := weekdayNumber(lo)
		if err != nil {
			return []string{item}
		}
		every := 1
		if hasStep {
			if every, err = strconv.Atoi(step); err != nil || every <= 0 {
				return []string{item}
			}
		}
		head := lo + "-6"
		if hasStep {
			head += "/" + step
		}
		if (7-from)%every == 0 {
			return []string{head, "0"}
		}
		return []string{head}
	}
	return []string{item}
}

// weekdayNumber reads a day-of-week bound given as a number or a name.
func weekdayNumber(s string) (int, error) {
	if n, ok := fieldSpecs[4].alias[strings.ToUpper(s)]; ok {
		return n, nil
	}
	return strconv.Atoi(s)
}
