package predicate

import (
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Breach is a single row that satisfied the predicate.
type Breach struct {
	Row   int
	Value float64
	Label string
}

// Outcome is the result of evaluating an Expr against a result set.
type Outcome struct {
	Breached bool
	RowCount int
	// Observed is the value reported in alert messages: the row count for
	// row_count predicates, otherwise the first breaching value (or the first
	// non-null value when nothing breached).
	Observed float64
	// HasObserved is false when no row carried a value for the metric.
	HasObserved bool
	Breaches    []Breach
}

// Evaluate applies the expression to rows. columns lists the result set's
// columns in order and is used to tell a missing column apart from an empty
// result set. labelColumn, when set, names a column whose value identifies
// each breaching row in messages.
func (e Expr) Evaluate(columns []string, rows []map[string]any, labelColumn string) (Outcome, error) {
	out := Outcome{RowCount: len(rows)}

	if e.Metric == RowCount && !slices.Contains(columns, RowCount) {
		out.Observed = float64(len(rows))
		out.HasObserved = true
		out.Breached = e.Holds(out.Observed)
		return out, nil
	}

	if len(rows) > 0 && !slices.Contains(columns, e.Metric) {
		return out, fmt.Errorf("metric %q not found in result columns %v", e.Metric, columns)
	}
	if labelColumn != "" && len(rows) > 0 && !slices.Contains(columns, labelColumn) {
		return out, fmt.Errorf("label column %q not found in result columns %v", labelColumn, columns)
	}

	for i, row := range rows {
		raw := row[e.Metric]
		if raw == nil {
			continue
		}
		v, err := ToFloat(raw)
		if err != nil {
			return out, fmt.Errorf("row %d: metric %q: %w", i, e.Metric, err)
		}
		if !out.HasObserved {
			out.Observed = v
			out.HasObserved = true
		}
		if !e.Holds(v) {
			continue
		}
		if !out.Breached {
			out.Observed = v
		}
		out.Breached = true
		b := Breach{Row: i, Value: v}
		if labelColumn != "" {
			b.Label = fmt.Sprint(row[labelColumn])
		}
		out.Breaches = append(out.Breaches, b)
	}
	return out, nil
}

// ToFloat converts a driver value into a float64. It accepts the numeric
// types returned by database/sql drivers and pgx, including pgtype.Numeric.
func ToFloat(val any) (float64, error) {
	switch t := val.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return parseNumeric(t)
	case []byte:
		return parseNumeric(string(t))
	case *big.Int:
		f, _ := new(big.Float).SetInt(t).Float64()
		return f, nil
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil {
			return 0, fmt.Errorf("converting numeric: %w", err)
		}
		if !f.Valid {
			return 0, fmt.Errorf("numeric value is not valid")
		}
		return f.Float64, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", val)
	}
}

func parseNumeric(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", s)
	}
	if math.IsNaN(f) {
		return 0, fmt.Errorf("value %q is not a number", s)
	}
	return f, nil
}
