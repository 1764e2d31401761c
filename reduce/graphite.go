package reduce

import (
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/sorting"
)

// GraphiteRollupAlgorithm applies time-bucketed retention and rollup. Each
// row's path selects a rule, the row's age relative to now selects a
// precision from the rule's retentions, and rows falling into the same
// (path, bucket) are combined by the rule's aggregate function. The age is
// computed against wall-clock at write time, exactly like background rollups.
type GraphiteRollupAlgorithm struct {
	runState
	sortDesc sorting.Description
	params   *schema.GraphiteParams
	now      int64
}

func (a *GraphiteRollupAlgorithm) Merge() (Status, error) {
	return a.next(a.reduce)
}

func (a *GraphiteRollupAlgorithm) selectRule(path string) *schema.GraphiteRule {
	for i := range a.params.Rules {
		r := &a.params.Rules[i]
		if r.Pattern == nil || r.Pattern.MatchString(path) {
			return r
		}
	}
	return nil
}

// selectPrecision picks the coarsest retention whose age threshold the row
// has passed. Rows younger than every threshold keep second precision.
func selectPrecision(rule *schema.GraphiteRule, age int64) int64 {
	precision := int64(1)
	for _, r := range rule.Retentions {
		if age >= r.Age && r.Precision > precision {
			precision = r.Precision
		}
	}
	return precision
}

func (a *GraphiteRollupAlgorithm) reduce(b *block.Block) (*block.Block, error) {
	pathCol, err := b.ColumnByName(a.params.PathColumn)
	if err != nil {
		return nil, fmt.Errorf("error in ColumnByName: %w", err)
	}
	timeCol, err := b.ColumnByName(a.params.TimeColumn)
	if err != nil {
		return nil, fmt.Errorf("error in ColumnByName: %w", err)
	}
	valueCol, err := b.ColumnByName(a.params.ValueColumn)
	if err != nil {
		return nil, fmt.Errorf("error in ColumnByName: %w", err)
	}

	n := b.Rows()
	buckets := make([]int64, n)
	for i := 0; i < n; i++ {
		path, ok := pathCol.Data[i].(string)
		if !ok {
			return nil, fmt.Errorf("path column %s holds %T, expected string", a.params.PathColumn, pathCol.Data[i])
		}
		ts, ok := timeCol.Data[i].(int64)
		if !ok {
			return nil, fmt.Errorf("time column %s holds %T, expected DateTime", a.params.TimeColumn, timeCol.Data[i])
		}
		buckets[i] = ts
		if rule := a.selectRule(path); rule != nil {
			precision := selectPrecision(rule, a.now-ts)
			buckets[i] = ts - ts%precision
		}
	}

	out := b.CloneEmpty()
	emit := func(start, end int) error {
		path, _ := pathCol.Data[start].(string)
		rule := a.selectRule(path)
		fn := "avg"
		if rule != nil && rule.Function != "" {
			fn = rule.Function
		}
		val, err := rollupValue(valueCol, fn, start, end)
		if err != nil {
			return err
		}
		for ci, c := range b.Columns {
			dst := out.Columns[ci]
			switch c.Name {
			case a.params.TimeColumn:
				dst.Data = append(dst.Data, buckets[start])
			case a.params.ValueColumn:
				dst.Data = append(dst.Data, val)
			default:
				// version and every other column take the last row's value
				dst.Data = append(dst.Data, c.Data[end-1])
			}
		}
		return nil
	}

	// Rows are sorted by (path, time), bucket-equal rows are adjacent.
	start := 0
	for i := 1; i <= n; i++ {
		same := false
		if i < n {
			same = pathCol.Data[i] == pathCol.Data[start] && buckets[i] == buckets[start]
		}
		if !same {
			if err := emit(start, i); err != nil {
				return nil, err
			}
			start = i
		}
	}
	return out, nil
}

func rollupValue(c *block.Column, fn string, start, end int) (float64, error) {
	vals := make([]float64, 0, end-start)
	for i := start; i < end; i++ {
		f, ok := c.Data[i].(float64)
		if !ok {
			return 0, fmt.Errorf("value column %s holds %T, expected float64", c.Name, c.Data[i])
		}
		vals = append(vals, f)
	}
	switch fn {
	case "sum":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s, nil
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case "last":
		return vals[len(vals)-1], nil
	case "avg":
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(len(vals)), nil
	default:
		return 0, fmt.Errorf("unknown rollup function %s", fn)
	}
}
