package retrodfrg

import (
	"strings"
	"sync"
)

// State is what happened to one cell of the map.
type State uint8

const (
	Pending State = iota
	Skipped
	Written
	Verified
	Failed
)

// Glyph returns the map character for s.
func (s State) Glyph() rune {
	switch s {
	case Skipped:
		return '·'
	case Written:
		return '▒'
	case Verified:
		return '█'
	case Failed:
		return 'X'
	default:
		return '░'
	}
}

// Tracker records the state of every block. The map follows the most
// recently marked block when there are more blocks than cells on screen.
type Tracker struct {
	mu      sync.Mutex
	cells   []State
	current int
}

// NewTracker returns a tracker for total blocks, all Pending.
func NewTracker(total int) *Tracker {
	return &Tracker{cells: make([]State, total)}
}

// Mark sets the state of block i.
func (t *Tracker) Mark(i int, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.cells) {
		return
	}
	t.cells[i] = s
	t.current = i
}

// MarkRange sets blocks [start, end) to s without moving the view.
func (t *Tracker) MarkRange(start, end int, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := max(start, 0); i < end && i < len(t.cells); i++ {
		t.cells[i] = s
	}
}

// Count returns how many blocks are in state s.
func (t *Tracker) Count(s State) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.cells {
		if c == s {
			n++
		}
	}
	return n
}

// MapLines renders the map into at most rows lines of w cells.
func (t *Tracker) MapLines(w, rows int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.cells)
	if w <= 0 || rows <= 0 || total == 0 {
		return nil
	}
	capacity := w * rows

	start := 0
	if total > capacity {
		if t.current >= capacity-1 {
			start = t.current - (capacity - 1)
		}
		if start+capacity > total {
			start = total - capacity
		}
	}

	var lines []string
	for row := 0; row < rows; row++ {
		var b strings.Builder
		b.Grow(w * 3)
		for col := 0; col < w; col++ {
			abs := start + row*w + col
			if abs >= total {
				break
			}
			b.WriteRune(t.cells[abs].Glyph())
		}
		if b.Len() == 0 {
			break
		}
		lines = append(lines, b.String())
	}
	return lines
}
