package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gdamore/tcell/v2/terminfo"
	_ "github.com/gdamore/tcell/v2/terminfo/extended"
	"golang.org/x/term"

	"preclear/blockplan"
	"preclear/pass"
)

// ANSI color numbers as used by setaf.
const (
	colorRed    = 1
	colorGreen  = 2
	colorYellow = 3
	colorCyan   = 6
)

// palette colors header values and results. The zero value prints plain
// text.
type palette struct {
	ti *terminfo.Terminfo
}

// paletteFor enables color only when w is a terminal whose $TERM entry
// supports at least 8 colors and NO_COLOR is unset.
func paletteFor(w io.Writer) palette {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" || !term.IsTerminal(int(f.Fd())) {
		return palette{}
	}
	ti, err := terminfo.LookupTerminfo(os.Getenv("TERM"))
	if err != nil || ti.Colors < 8 || ti.SetFg == "" {
		return palette{}
	}
	return palette{ti: ti}
}

func (p palette) paint(color int, s string) string {
	if p.ti == nil {
		return s
	}
	return p.ti.TColor(color, -1) + s + p.ti.AttrOff
}

func (p palette) value(s string) string { return p.paint(colorCyan, s) }
func (p palette) given(s string) string { return p.paint(colorYellow, s) }
func (p palette) bad(s string) string   { return p.paint(colorRed, s) }
func (p palette) good(s string) string  { return p.paint(colorGreen, s) }

// lineReporter redraws a single progress line per block.
type lineReporter struct {
	w io.Writer
}

func (r *lineReporter) PassStarted(k pass.Kind, _ blockplan.Plan, _ uint64) {
	if k == pass.Verify {
		fmt.Fprintln(r.w, "Verifying...")
		return
	}
	fmt.Fprintln(r.w, "Writing...")
}

func (r *lineReporter) BlockDone(p pass.Progress) {
	fmt.Fprintf(r.w, "\r\x1b[2K%d%% (%s %d bytes at %.2f MB/s, %.2f MB/s overall)",
		p.Percent, p.Pass.Verb(), p.Position, p.Instant, p.Overall)
}

func (r *lineReporter) PassFinished(pass.Kind, pass.Stats) {
	fmt.Fprintln(r.w)
}

func human(b uint64) string {
	switch {
	case b >= 1<<40:
		return fmt.Sprintf("%.1fT", float64(b)/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%dM", b/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%dK", b/(1<<10))
	}
	return fmt.Sprintf("%dB", b)
}
