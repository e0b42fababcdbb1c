// Package retrodfrg provides a full-screen terminal view of a block-by-block
// device pass: title, summary, a map with one cell per block, pass phases and
// status lines. It knows nothing about what the blocks contain.
package retrodfrg

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is returned when the user requests to stop the operation.
var ErrInterrupted = errors.New("interrupted")

// UI is the full-screen view. All setters and LayoutAndDraw must be called
// from one goroutine; only RequestStop and Done are safe from others.
type UI struct {
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once
	mu       sync.Mutex

	// Customizable display
	title        string
	phases       []string
	phaseDoneMap map[string]bool
	summaryLines []string
	legendLines  []string
	statusLines  []string

	// Block map rows, rendered as given.
	progressMapLines []string
	mapStyle         tcell.Style
	alert            string
}

// reservedRows is kept free below the map for the phase and status blocks.
const reservedRows = 8

// NewUI initializes the terminal and starts the key handler.
func NewUI() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewUIOn(s)
}

// NewUIOn is NewUI on a caller supplied screen, such as a
// tcell.SimulationScreen.
func NewUIOn(s tcell.Screen) (*UI, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:            s,
		stopChan:     make(chan struct{}),
		phaseDoneMap: make(map[string]bool),
	}
	go u.eventLoop()
	return u, nil
}

// Close restores the terminal.
func (u *UI) Close() {
	u.RequestStop()
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	u.s.Fini()
	u.s = nil
}

// RequestStop signals that the user asked to stop. Safe to call repeatedly.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stopChan)
		u.mu.Lock()
		if u.s != nil {
			_ = u.s.PostEvent(tcell.NewEventInterrupt(nil))
		}
		u.mu.Unlock()
	})
}

// Done is closed once a stop was requested.
func (u *UI) Done() <-chan struct{} {
	return u.stopChan
}

// Size returns the current screen width and height.
func (u *UI) Size() (width, height int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return 0, 0
	}
	return u.s.Size()
}

func putStr(s tcell.Screen, x, y int, str string) {
	putStyled(s, x, y, str, tcell.StyleDefault)
}

func putStyled(s tcell.Screen, x, y int, str string, st tcell.Style) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, st)
	}
}

// LayoutAndDraw redraws the screen from the current state.
func (u *UI) LayoutAndDraw() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.s == nil {
		return
	}
	u.s.Clear()
	w, h := u.s.Size()

	currentY := 0

	// Title
	if u.title != "" {
		putStr(u.s, 0, currentY, strings.Repeat("═", w))
		centerX := (w - len(u.title)) / 2
		putStr(u.s, centerX, currentY, u.title)
		currentY++
	}

	// Optional summary lines
	for _, line := range u.summaryLines {
		if currentY >= h {
			break
		}
		putStr(u.s, 0, currentY, line)
		currentY++
	}

	// Optional legend
	for _, line := range u.legendLines {
		if currentY >= h {
			break
		}
		putStr(u.s, 0, currentY, line)
		currentY++
	}

	// Block map, leaving room for the phase and status blocks.
	if len(u.progressMapLines) > 0 {
		avail := h - currentY - reservedRows
		if avail < 1 {
			avail = 1
		}
		rowsToShow := avail
		if rowsToShow > len(u.progressMapLines) {
			rowsToShow = len(u.progressMapLines)
		}
		for i := 0; i < rowsToShow && currentY < h; i++ {
			runes := []rune(u.progressMapLines[i])
			if len(runes) > w {
				runes = runes[:w]
			}
			putStyled(u.s, 0, currentY, string(runes), u.mapStyle)
			currentY++
		}
	}

	// Phase line
	if len(u.phases) > 0 {
		putStr(u.s, 0, currentY, strings.Repeat("─", w))
		putStr(u.s, 2, currentY, " Phase ")
		currentY++
		check := func(ok bool) rune {
			if ok {
				return '✓'
			}
			return ' '
		}
		b := strings.Builder{}
		for i, p := range u.phases {
			if i > 0 {
				b.WriteByte(' ')
			}
			done := u.phaseDoneMap[strings.ToLower(p)]
			b.WriteString(fmt.Sprintf("[%c]%s", check(done), p))
		}
		putStr(u.s, 0, currentY, b.String())
		currentY++
	}

	// Status block
	if u.alert != "" && currentY < h {
		putStyled(u.s, 0, currentY, u.alert, tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true))
		currentY++
	}
	if len(u.statusLines) > 0 {
		putStr(u.s, 0, currentY, strings.Repeat("─", w))
		putStr(u.s, 2, currentY, " Status ")
		currentY++
		for _, line := range u.statusLines {
			if currentY >= h {
				break
			}
			putStr(u.s, 0, currentY, line)
			currentY++
		}
	}

	u.s.Show()
}

// SetPhaseDone marks the specified phase as completed.
// The phase name is case-insensitive.
func (u *UI) SetPhaseDone(p string) {
	if u.phaseDoneMap == nil {
		u.phaseDoneMap = make(map[string]bool)
	}
	u.phaseDoneMap[strings.ToLower(p)] = true
}

// SetPhases sets the list of phases to display.
// Phases will be shown with checkmarks as they are marked done via SetPhaseDone.
func (u *UI) SetPhases(labels []string) {
	u.phases = append([]string(nil), labels...)
}

// SetTitle sets the title displayed at the top of the UI.
func (u *UI) SetTitle(t string) {
	u.title = t
}

// SetSummaryLines sets the summary/info lines displayed below the title.
func (u *UI) SetSummaryLines(lines []string) {
	u.summaryLines = append([]string(nil), lines...)
}

// SetLegend sets the legend lines displayed below the summary.
func (u *UI) SetLegend(lines []string) {
	u.legendLines = append([]string(nil), lines...)
}

// SetStatusLines sets the status lines displayed at the bottom of the UI.
func (u *UI) SetStatusLines(lines []string) {
	u.statusLines = append([]string(nil), lines...)
}

// SetProgressMap sets the block map rows. See Tracker.MapLines.
func (u *UI) SetProgressMap(lines []string) {
	u.progressMapLines = append([]string(nil), lines...)
}

// SetMapColor colors the block map.
func (u *UI) SetMapColor(c tcell.Color) {
	u.mapStyle = tcell.StyleDefault.Foreground(c)
}

// SetAlert shows a highlighted line above the status block. Empty clears it.
func (u *UI) SetAlert(msg string) {
	u.alert = msg
}

// MapArea returns how many columns and rows the block map may use.
func (u *UI) MapArea() (cols, rows int) {
	w, h := u.Size()
	rows = h - 1 - len(u.summaryLines) - len(u.legendLines) - reservedRows
	if rows < 1 {
		rows = 1
	}
	return w, rows
}

// WaitWithStop keeps the final screen up for d or until the user quits.
func (u *UI) WaitWithStop(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-u.stopChan:
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}

func (u *UI) eventLoop() {
	s := u.s
	go func() {
		for {
			select {
			case <-u.stopChan:
				return
			default:
			}
			switch ev := s.PollEvent().(type) {
			case *tcell.EventKey:
				switch {
				case ev.Key() == tcell.KeyCtrlC:
					u.RequestStop()
				case ev.Key() == tcell.KeyRune && (ev.Rune() == 'q' || ev.Rune() == 'Q'):
					u.RequestStop()
				case ev.Key() == tcell.KeyEscape:
					u.RequestStop()
				}
			case *tcell.EventResize:
				s.Sync()
			case *tcell.EventInterrupt:
				return
			case nil:
				return
			}
		}
	}()
}
