package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pipewatch/pipewatch/monitor/internal/counters"
)

// absenceKeyword is the condition of policies driven by heartbeat silence.
const absenceKeyword = "absence"

// Condition is a parsed policy condition.
//
// Supported expressions:
//
//	job_error > 0
//	dq_fail > 0
//	job_ok < 1
//	job_warn >= 3
//	absence
type Condition struct {
	Absence   bool
	Metric    string
	Op        string
	Threshold float64
}

// ParseCondition parses "metric op threshold" or the bare word "absence".
func ParseCondition(s string) (Condition, error) {
	parts := strings.Fields(s)
	if len(parts) == 1 && parts[0] == absenceKeyword {
		return Condition{Absence: true}, nil
	}
	if len(parts) != 3 {
		return Condition{}, fmt.Errorf("condition %q: want \"metric op threshold\" or %q", s, absenceKeyword)
	}
	metric, op, rhs := parts[0], parts[1], parts[2]

	if !knownMetric(metric) {
		return Condition{}, fmt.Errorf("condition %q: unknown metric %q", s, metric)
	}
	switch op {
	case ">", ">=", "<", "<=", "==":
	default:
		return Condition{}, fmt.Errorf("condition %q: unknown operator %q", s, op)
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: threshold: %w", s, err)
	}
	return Condition{Metric: metric, Op: op, Threshold: threshold}, nil
}

// Match reports whether v satisfies the condition. Absence conditions never
// match a counter value.
func (c Condition) Match(v float64) bool {
	if c.Absence {
		return false
	}
	return compareFloat(v, c.Op, c.Threshold)
}

func (c Condition) String() string {
	if c.Absence {
		return absenceKeyword
	}
	return fmt.Sprintf("%s %s %g", c.Metric, c.Op, c.Threshold)
}

func knownMetric(m string) bool {
	for _, k := range counters.Metrics {
		if k == m {
			return true
		}
	}
	return false
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
