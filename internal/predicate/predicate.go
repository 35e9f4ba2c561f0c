// Package predicate implements the small comparison language used to decide
// whether a probe's result rows should raise an alert:
//
//	dead_percent > 25
//	hit_ratio < 0.99
//	row_count > 0
//
// The left-hand side names a result column, or the pseudo-metric row_count.
package predicate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// RowCount is the pseudo-metric that evaluates to the number of result rows.
const RowCount = "row_count"

// Op is a comparison operator.
type Op string

const (
	OpGT Op = ">"
	OpGE Op = ">="
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Expr is a compiled predicate.
type Expr struct {
	Metric    string
	Op        Op
	Threshold float64
}

var exprPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(>=|<=|==|!=|>|<)\s*([-+]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)(?:[eE][-+]?[0-9]+)?)$`)

// Parse compiles a predicate string.
func Parse(s string) (Expr, error) {
	src := strings.TrimSpace(s)
	if src == "" {
		return Expr{}, fmt.Errorf("predicate is empty")
	}
	m := exprPattern.FindStringSubmatch(src)
	if m == nil {
		return Expr{}, fmt.Errorf("invalid predicate %q: want \"<metric> <op> <number>\" with op one of > >= < <= == !=", s)
	}
	threshold, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return Expr{}, fmt.Errorf("invalid predicate threshold %q: %w", m[3], err)
	}
	return Expr{Metric: m[1], Op: Op(m[2]), Threshold: threshold}, nil
}

// String renders the expression in canonical form.
func (e Expr) String() string {
	return fmt.Sprintf("%s %s %s", e.Metric, e.Op, FormatNumber(e.Threshold))
}

// Holds reports whether value satisfies the comparison.
func (e Expr) Holds(value float64) bool {
	switch e.Op {
	case OpGT:
		return value > e.Threshold
	case OpGE:
		return value >= e.Threshold
	case OpLT:
		return value < e.Threshold
	case OpLE:
		return value <= e.Threshold
	case OpEQ:
		return value == e.Threshold
	case OpNE:
		return value != e.Threshold
	default:
		return false
	}
}

// FormatNumber prints a float without trailing zeros (31.9, 25, 0.125).
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
