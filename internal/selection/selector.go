// Package selection picks the ordered candidate subset each module uses in an issue.
package selection

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"IssueAssembler/internal/domain"
)

// Candidate is the selector's view of an eligible item.
type Candidate struct {
	ID       string
	Key      string
	Score    float64
	Priority int
}

// Result is the ordered selection plus the pool it was drawn from.
type Result struct {
	IDs      []string
	PoolSize int
	// Cursor is the rotation position the selection started from (sequential only).
	Cursor int
}

// Selector dispatches on the module's selection mode.
type Selector struct {
	rng *rand.Rand
}

// New returns a selector; a nil rng uses a randomly seeded source.
func New(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{rng: rng}
}

// Select returns the ordered ids the module should use. An empty eligible set yields
// an empty result, never an error.
func (s *Selector) Select(module domain.ContentModule, eligible []Candidate) (Result, error) {
	res := Result{PoolSize: len(eligible)}
	switch module.Mode {
	case domain.ModeScoreBased:
		res.IDs = topBy(eligible, selectionSize(module), func(c Candidate) float64 { return c.Score })
	case domain.ModePriority:
		res.IDs = topBy(eligible, selectionSize(module), func(c Candidate) float64 { return float64(c.Priority) })
	case domain.ModeRandom:
		res.IDs = s.shuffled(eligible, selectionSize(module))
	case domain.ModeSequential:
		res.Cursor = normalizeCursor(module.NextPosition)
		res.IDs = rotate(eligible, module.Count, res.Cursor)
	case domain.ModeManual:
		res.IDs = []string{}
	default:
		return Result{}, fmt.Errorf("module %s: unsupported selection mode %s", module.ID, module.Mode)
	}
	return res, nil
}

// selectionSize is count plus the generation buffer the finalizer trims back off.
func selectionSize(module domain.ContentModule) int {
	n := module.Count
	if module.SelectionBuffer > 0 {
		n += module.SelectionBuffer
	}
	if n < 0 {
		return 0
	}
	return n
}

func topBy(eligible []Candidate, n int, key func(Candidate) float64) []string {
	ordered := make([]Candidate, len(eligible))
	copy(ordered, eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		return key(ordered[i]) > key(ordered[j])
	})
	return take(ordered, n)
}

func (s *Selector) shuffled(eligible []Candidate, n int) []string {
	ordered := make([]Candidate, len(eligible))
	copy(ordered, eligible)
	s.rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return take(ordered, n)
}

func rotate(eligible []Candidate, count, cursor int) []string {
	total := len(eligible)
	if total == 0 || count <= 0 {
		return []string{}
	}
	ordered := make([]Candidate, total)
	copy(ordered, eligible)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Key < ordered[j].Key
	})
	if count > total {
		count = total
	}
	start := (cursor - 1) % total
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, ordered[(start+i)%total].ID)
	}
	return ids
}

func take(ordered []Candidate, n int) []string {
	if n > len(ordered) {
		n = len(ordered)
	}
	if n < 0 {
		n = 0
	}
	ids := make([]string, 0, n)
	for _, c := range ordered[:n] {
		ids = append(ids, c.ID)
	}
	return ids
}

func normalizeCursor(cursor int) int {
	if cursor < 1 {
		return 1
	}
	return cursor
}

// NextCursor advances a 1-based rotation cursor by the number of items actually used,
// wrapping on the pool size seen at selection time.
func NextCursor(cursor, used, poolSize int) int {
	cursor = normalizeCursor(cursor)
	if poolSize <= 0 {
		return cursor
	}
	return ((cursor-1)%poolSize+used)%poolSize + 1
}
