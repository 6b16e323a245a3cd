package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"simfinder/logging"
	"simfinder/types"
)

const (
	// DefaultThreshold is the fused score at which two images are similar
	DefaultThreshold = 0.75

	// DefaultMemoSize bounds the pairwise score memo
	DefaultMemoSize = 4096
)

type pairKey struct {
	a, b string
}

func newPairKey(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Options configures an Engine
type Options struct {
	MemoSize int
}

// Engine computes similarity matrices on its primary backend and falls back
// to the CPU when the device is unavailable
type Engine struct {
	primary  Backend
	fallback Backend
	memo     *lru.Cache[pairKey, types.PairScores]
}

// NewEngine creates an engine. A nil primary runs everything on the CPU.
func NewEngine(primary Backend, opts Options) (*Engine, error) {
	if opts.MemoSize <= 0 {
		opts.MemoSize = DefaultMemoSize
	}
	memo, err := lru.New[pairKey, types.PairScores](opts.MemoSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pair memo: %w", err)
	}

	fallback := Backend(CPUBackend{})
	if primary == nil {
		primary = fallback
	}
	return &Engine{primary: primary, fallback: fallback, memo: memo}, nil
}

// Backend returns the name of the primary backend
func (e *Engine) Backend() string {
	return e.primary.Name()
}

// Similarities returns the fused NxN matrix for features
func (e *Engine) Similarities(ctx context.Context, features []*types.FeatureVector) (*types.SimilarityMatrix, error) {
	for _, f := range features {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	if len(features) == 0 {
		return types.NewSimilarityMatrix(0, nil)
	}

	m, err := e.primary.Compute(ctx, features)
	if err != nil && errors.Is(err, types.ErrDeviceUnavailable) && e.primary != e.fallback {
		logging.LogWarning("similarity backend unavailable, falling back",
			"backend", e.primary.Name(), "fallback", e.fallback.Name(), "error", err)
		m, err = e.fallback.Compute(ctx, features)
	}
	if err != nil {
		return nil, fmt.Errorf("similarity matrix: %w", err)
	}
	return m, nil
}

// Pairwise scores a single pair, memoized by the unordered identity pair
func (e *Engine) Pairwise(a, b *types.FeatureVector) (types.PairScores, error) {
	if err := a.Validate(); err != nil {
		return types.PairScores{}, err
	}
	if err := b.Validate(); err != nil {
		return types.PairScores{}, err
	}

	key := newPairKey(a.Identity, b.Identity)
	if scores, ok := e.memo.Get(key); ok {
		return scores, nil
	}
	scores := Score(a, b)
	e.memo.Add(key, scores)
	return scores, nil
}

// ClearMemo forgets every memoized pair
func (e *Engine) ClearMemo() {
	e.memo.Purge()
}

// Groups computes the matrix and clusters it in one step
func (e *Engine) Groups(ctx context.Context, features []*types.FeatureVector, threshold float64) ([][]int, error) {
	m, err := e.Similarities(ctx, features)
	if err != nil {
		return nil, err
	}
	return Clusters(m, threshold), nil
}

// Clusters returns the connected components of the graph with an edge
// wherever the score is at least threshold. Singletons are dropped, members
// are ascending and groups are ordered by their smallest member.
func Clusters(m *types.SimilarityMatrix, threshold float64) [][]int {
	n := m.Size()
	visited := make([]bool, n)
	var groups [][]int

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		stack := []int{i}
		var members []int

		for len(stack) > 0 {
			v := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			members = append(members, v)

			for u := 0; u < n; u++ {
				if !visited[u] && float64(m.At(v, u)) >= threshold {
					visited[u] = true
					stack = append(stack, u)
				}
			}
		}

		if len(members) > 1 {
			sort.Ints(members)
			groups = append(groups, members)
		}
	}
	return groups
}
