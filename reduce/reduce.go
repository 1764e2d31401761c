package reduce

import (
	"errors"
	"fmt"

	"github.com/permafrostdb/permafrost/block"
	"github.com/permafrostdb/permafrost/gologger"
	"github.com/permafrostdb/permafrost/schema"
	"github.com/permafrostdb/permafrost/sorting"
)

var (
	logger = gologger.NewLogger()

	ErrBadInputs        = errors.New("merging algorithm expects exactly one input")
	ErrMergeAfterFinish = errors.New("merge called after the algorithm finished")
)

type (
	// Input is one run fed to a merging algorithm: a block plus an optional
	// permutation that orders it. The algorithm consumes the permutation, rows
	// come out already ordered.
	Input struct {
		Block       *block.Block
		Permutation []int
	}

	// Status is the outcome of one merge step. While not finished the
	// algorithm requests more data from RequiredSource; once finished Chunk
	// holds the merged result.
	Status struct {
		Chunk          *block.Block
		RequiredSource int
		IsFinished     bool
	}

	// Algorithm reduces equivalent rows of sorted runs. The insert path feeds
	// a single run and steps the algorithm exactly twice: the first step must
	// request more data from source 0, the second must finish.
	Algorithm interface {
		Initialize(inputs []Input) error
		Merge() (Status, error)
	}

	// runState drives the single-run two-step protocol shared by every
	// algorithm: step one consumes the buffered input and asks source 0 for
	// more, step two reduces and finishes.
	runState struct {
		input *block.Block
		step  int
	}
)

func (s *runState) Initialize(inputs []Input) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w, got %d", ErrBadInputs, len(inputs))
	}
	s.input = inputs[0].Block.ApplyPermutation(inputs[0].Permutation)
	return nil
}

func (s *runState) next(reduce func(b *block.Block) (*block.Block, error)) (Status, error) {
	switch s.step {
	case 0:
		s.step = 1
		return Status{RequiredSource: 0}, nil
	case 1:
		s.step = 2
		out, err := reduce(s.input)
		if err != nil {
			return Status{}, err
		}
		return Status{Chunk: out, IsFinished: true}, nil
	default:
		return Status{}, ErrMergeAfterFinish
	}
}

// equivalenceClasses walks the sorted block and calls fn with each maximal
// [start, end) range of rows equal on the sort columns.
func equivalenceClasses(b *block.Block, desc sorting.Description, fn func(start, end int) error) error {
	n := b.Rows()
	if n == 0 {
		return nil
	}
	cols := make([]*block.Column, 0, len(desc))
	for _, name := range desc {
		c, err := b.ColumnByName(name)
		if err != nil {
			return fmt.Errorf("error in ColumnByName: %w", err)
		}
		cols = append(cols, c)
	}
	start := 0
	for i := 1; i <= n; i++ {
		same := false
		if i < n {
			cmp, err := sorting.CompareRows(cols, i-1, i)
			if err != nil {
				return err
			}
			same = cmp == 0
		}
		if !same {
			if err := fn(start, i); err != nil {
				return err
			}
			start = i
		}
	}
	return nil
}

// NewAlgorithm builds the merging strategy for the table's merging mode.
// Ordinary returns nil: a single block has nothing to merge.
func NewAlgorithm(sortDesc sorting.Description, partitionKeyColumns []string, params schema.MergingParams, now int64) (Algorithm, error) {
	switch params.Mode {
	case schema.Ordinary:
		return nil, nil
	case schema.Replacing:
		return &ReplacingAlgorithm{sortDesc: sortDesc, versionColumn: params.VersionColumn}, nil
	case schema.Collapsing:
		return &CollapsingAlgorithm{sortDesc: sortDesc, signColumn: params.SignColumn}, nil
	case schema.Summing:
		return &SummingAlgorithm{sortDesc: sortDesc, columnsToSum: params.ColumnsToSum, partitionKeyColumns: partitionKeyColumns}, nil
	case schema.Aggregating:
		return &AggregatingAlgorithm{sortDesc: sortDesc}, nil
	case schema.VersionedCollapsing:
		return &VersionedCollapsingAlgorithm{sortDesc: sortDesc, signColumn: params.SignColumn}, nil
	case schema.Graphite:
		if params.Graphite == nil {
			return nil, fmt.Errorf("graphite merging mode requires graphite params")
		}
		return &GraphiteRollupAlgorithm{sortDesc: sortDesc, params: params.Graphite, now: now}, nil
	default:
		return nil, fmt.Errorf("unknown merging mode %d", params.Mode)
	}
}
