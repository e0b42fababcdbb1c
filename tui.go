package main

import (
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/gdamore/tcell/v2"

	"preclear/blockplan"
	"preclear/pass"
	"preclear/retrodfrg"
)

// maxMapCells bounds the block map. Plans with more blocks share cells.
const maxMapCells = 1 << 16

// tuiReporter draws the block map on a full-screen tcell view.
type tuiReporter struct {
	ui      *retrodfrg.UI
	tr      *retrodfrg.Tracker
	cells   uint64
	path    string
	mode    pass.Mode
	started time.Time
	plan    blockplan.Plan
	last    pass.Progress
	op      string
}

func newTUIReporter(ui *retrodfrg.UI, path string, mode pass.Mode, key string) *tuiReporter {
	r := &tuiReporter{ui: ui, path: path, mode: mode}
	ui.SetTitle("PRECLEAR")
	phases := []string{"Verify"}
	if mode.Writes() {
		phases = []string{"Write", "Verify"}
	}
	ui.SetPhases(phases)
	legend := []string{
		fmt.Sprintf("%c pending  %c skipped  %c written  %c verified  %c failed",
			retrodfrg.Pending.Glyph(), retrodfrg.Skipped.Glyph(), retrodfrg.Written.Glyph(),
			retrodfrg.Verified.Glyph(), retrodfrg.Failed.Glyph()),
	}
	if key != "" {
		legend = append(legend, "Key: "+key)
	}
	ui.SetLegend(legend)
	return r
}

func (r *tuiReporter) PassStarted(k pass.Kind, plan blockplan.Plan, startBlock uint64) {
	if r.tr == nil {
		r.plan = plan
		r.cells = min(plan.BlockCount, maxMapCells)
		r.tr = retrodfrg.NewTracker(int(r.cells))
		r.tr.MarkRange(0, r.cell(startBlock), retrodfrg.Skipped)
		r.ui.SetSummaryLines([]string{
			fmt.Sprintf("%s  %s (%d bytes)  %d blocks of %s  mode %s",
				r.path, human(plan.DiskSize), plan.DiskSize, plan.BlockCount, human(plan.BlockSize), r.mode),
		})
	}
	r.started = time.Now()
	r.last = pass.Progress{Pass: k}
	if k == pass.Write {
		r.ui.SetMapColor(tcell.ColorYellow)
		r.op = "writing"
	} else {
		r.ui.SetMapColor(tcell.ColorGreen)
		r.op = "verifying"
	}
	r.refresh()
}

func (r *tuiReporter) BlockDone(p pass.Progress) {
	st := retrodfrg.Verified
	if p.Pass == pass.Write {
		st = retrodfrg.Written
	}
	r.tr.Mark(r.cell(p.Block.Index), st)
	r.last = p
	r.refresh()
}

func (r *tuiReporter) PassFinished(k pass.Kind, _ pass.Stats) {
	r.ui.SetPhaseDone(k.String())
	r.op = k.String() + " done"
	r.refresh()
}

// fail marks the block that broke the run and shows why.
func (r *tuiReporter) fail(err error) {
	var mm *pass.MismatchError
	if errors.As(err, &mm) && r.tr != nil {
		r.tr.Mark(r.cell(mm.Block), retrodfrg.Failed)
		r.ui.SetMapColor(tcell.ColorRed)
	}
	r.op = "failed"
	r.ui.SetAlert(err.Error())
	r.refresh()
}

// cell maps a block index onto the map.
func (r *tuiReporter) cell(block uint64) int {
	if r.plan.BlockCount == r.cells {
		return int(block)
	}
	hi, lo := bits.Mul64(block, r.cells)
	q, _ := bits.Div64(hi, lo, r.plan.BlockCount)
	return int(q)
}

func (r *tuiReporter) refresh() {
	if r.tr != nil {
		cols, rows := r.ui.MapArea()
		r.ui.SetProgressMap(r.tr.MapLines(cols, rows))
		lines := statusLines(r.last, r.plan, r.op, time.Since(r.started))
		lines = append(lines, fmt.Sprintf("Map: %d written  %d verified  %d skipped  (%d blocks per cell)",
			r.tr.Count(retrodfrg.Written), r.tr.Count(retrodfrg.Verified), r.tr.Count(retrodfrg.Skipped),
			(r.plan.BlockCount+r.cells-1)/r.cells))
		r.ui.SetStatusLines(lines)
	}
	r.ui.LayoutAndDraw()
}

func statusLines(p pass.Progress, plan blockplan.Plan, op string, elapsed time.Duration) []string {
	eta := "—"
	if p.Overall > 0 && plan.DiskSize > p.Position {
		remain := float64(plan.DiskSize-p.Position) / (p.Overall * 1024 * 1024)
		eta = (time.Duration(remain * float64(time.Second))).Truncate(time.Second).String()
	}
	return []string{
		fmt.Sprintf("Block: %d / %d   %d%%", p.Block.Index, plan.BlockCount, p.Percent),
		fmt.Sprintf("Done: %d bytes (%s) this pass", p.Stats.BytesDone, human(p.Stats.BytesDone)),
		fmt.Sprintf("Elapsed: %s   Rate: %.2f MB/s (%.2f overall)   ETA: %s",
			elapsed.Truncate(time.Second), p.Instant, p.Overall, eta),
		"Current op: " + op,
	}
}
