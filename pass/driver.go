// Package pass drives the write and verify passes over a block plan.
package pass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"preclear/blockplan"
	"preclear/pattern"
)

// Mode selects what the write pass puts on the device.
type Mode int

const (
	// ModeRead skips the write pass and only measures read throughput.
	ModeRead Mode = iota
	// ModeZero writes zeros and verifies them.
	ModeZero
	// ModeRandom writes the key-derived pattern and verifies it.
	ModeRandom
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeZero:
		return "zero"
	case ModeRandom:
		return "random"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Writes reports whether the mode has a write pass.
func (m Mode) Writes() bool {
	return m == ModeZero || m == ModeRandom
}

// Kind identifies a pass.
type Kind int

const (
	Write Kind = iota
	Verify
)

func (k Kind) String() string {
	if k == Write {
		return "write"
	}
	return "verify"
}

// Verb is the past tense used in progress lines.
func (k Kind) Verb() string {
	if k == Write {
		return "wrote"
	}
	return "read"
}

// Device is the open device or image. WriteAt is only called when the mode
// writes.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// Stats accumulates over one pass.
type Stats struct {
	BytesDone      uint64
	ElapsedInstant time.Duration
	ElapsedOverall time.Duration
}

// Progress is emitted once per completed block.
type Progress struct {
	Pass    Kind
	Block   blockplan.Range
	Percent uint64
	// Position is the number of device bytes up to and including this block.
	Position uint64
	// Speeds in MB/s (2^20 bytes per second).
	Instant float64
	Overall float64
	Stats   Stats
}

// Reporter consumes progress events. Calls happen on the driver goroutine.
type Reporter interface {
	PassStarted(k Kind, plan blockplan.Plan, startBlock uint64)
	BlockDone(p Progress)
	PassFinished(k Kind, s Stats)
}

// Options configures a Driver.
type Options struct {
	Mode        Mode
	Engine      *pattern.Engine
	StartOffset uint64
	Reporter    Reporter
	Logger      *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Driver runs the passes. A Driver is single use.
type Driver struct {
	dev        Device
	plan       blockplan.Plan
	mode       Mode
	engine     *pattern.Engine
	startBlock uint64
	rep        Reporter
	log        *zap.Logger
	now        func() time.Time
}

// New validates the options against plan.
func New(dev Device, plan blockplan.Plan, opts Options) (*Driver, error) {
	if plan.BlockSize == 0 || plan.BlockCount == 0 {
		return nil, fmt.Errorf("empty plan: %+v", plan)
	}
	if opts.Mode == ModeRandom && opts.Engine == nil {
		return nil, ErrNoEngine
	}
	sb, err := plan.StartBlock(opts.StartOffset)
	if err != nil {
		return nil, err
	}
	d := &Driver{
		dev:        dev,
		plan:       plan,
		mode:       opts.Mode,
		engine:     opts.Engine,
		startBlock: sb,
		rep:        opts.Reporter,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if d.rep == nil {
		d.rep = nopReporter{}
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// StartBlock is the first block index both passes visit.
func (d *Driver) StartBlock() uint64 {
	return d.startBlock
}

// Run executes the write pass when the mode writes, then the verify pass.
func (d *Driver) Run(ctx context.Context) error {
	if d.mode.Writes() {
		if err := d.writePass(ctx); err != nil {
			return err
		}
		if s, ok := d.dev.(interface{ Sync() error }); ok {
			if err := s.Sync(); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
		}
	}
	return d.verifyPass(ctx)
}

func (d *Driver) writePass(ctx context.Context) error {
	log := d.log.With(zap.Stringer("pass", Write), zap.Stringer("mode", d.mode))
	log.Info("pass started", zap.Uint64("start_block", d.startBlock), zap.Uint64("block_count", d.plan.BlockCount))
	d.rep.PassStarted(Write, d.plan, d.startBlock)

	buf := make([]byte, d.plan.BufferSize())
	var st Stats
	passStart := d.now()
	for i := d.startBlock; i < d.plan.BlockCount; i++ {
		r, err := d.plan.Block(i)
		if err != nil {
			return err
		}
		if err := interrupted(ctx, Write, r); err != nil {
			log.Warn("pass interrupted", zap.Uint64("resume_offset", r.Start))
			return err
		}

		clear(buf)
		if d.mode == ModeRandom {
			d.engine.Fill(buf, i)
		}

		n := r.Len()
		t0 := d.now()
		if _, err := d.dev.WriteAt(buf[:n], int64(r.Start)); err != nil {
			log.Error("write failed", zap.Uint64("block", i), zap.Error(err))
			return fmt.Errorf("write block %d at %d: %w", i, r.Start, err)
		}
		d.rep.BlockDone(d.progress(Write, r, &st, t0, passStart))
	}

	d.rep.PassFinished(Write, st)
	log.Info("pass finished", zap.Uint64("bytes", st.BytesDone), zap.Duration("elapsed", st.ElapsedOverall))
	return nil
}

func (d *Driver) verifyPass(ctx context.Context) error {
	log := d.log.With(zap.Stringer("pass", Verify), zap.Stringer("mode", d.mode))
	log.Info("pass started", zap.Uint64("start_block", d.startBlock), zap.Uint64("block_count", d.plan.BlockCount))
	d.rep.PassStarted(Verify, d.plan, d.startBlock)

	buf := make([]byte, d.plan.BufferSize())
	var st Stats
	passStart := d.now()
	for i := d.startBlock; i < d.plan.BlockCount; i++ {
		r, err := d.plan.Block(i)
		if err != nil {
			return err
		}
		if err := interrupted(ctx, Verify, r); err != nil {
			log.Warn("pass interrupted", zap.Uint64("resume_offset", r.Start))
			return err
		}

		n := r.Len()
		t0 := d.now()
		if got, err := d.dev.ReadAt(buf[:n], int64(r.Start)); err != nil && !(errors.Is(err, io.EOF) && got == int(n)) {
			log.Error("read failed", zap.Uint64("block", i), zap.Error(err))
			return fmt.Errorf("read block %d at %d: %w", i, r.Start, err)
		}
		ev := d.progress(Verify, r, &st, t0, passStart)

		if d.mode.Writes() {
			if err := d.check(buf, r); err != nil {
				log.Error("validation failed", zap.Uint64("block", i), zap.Error(err))
				return err
			}
		}
		d.rep.BlockDone(ev)
	}

	d.rep.PassFinished(Verify, st)
	log.Info("pass finished", zap.Uint64("bytes", st.BytesDone), zap.Duration("elapsed", st.ElapsedOverall))
	return nil
}

// check inverts the pattern and looks for the first non-zero byte in the
// block's real length.
func (d *Driver) check(buf []byte, r blockplan.Range) error {
	n := r.Len()
	if d.mode == ModeRandom {
		if n < uint64(len(buf)) {
			// The tail past the device end was never written. Put the expected
			// ciphertext there so that the XTS unit straddling the end decrypts.
			tail := make([]byte, len(buf))
			d.engine.Fill(tail, r.Index)
			copy(buf[n:], tail[n:])
		}
		d.engine.Invert(buf, r.Index)
	}
	for j, b := range buf[:n] {
		if b != 0 {
			if d.mode == ModeRandom {
				j = d.locate(buf, r, j)
			}
			return &MismatchError{Offset: r.Start + uint64(j), Block: r.Index}
		}
	}
	return nil
}

// locate narrows a mismatch found after Invert down to the byte that differs
// on the device. A damaged byte garbles its whole XTS unit, and every earlier
// unit already decrypted cleanly, so the first differing ciphertext byte lies
// in the unit holding j.
func (d *Driver) locate(buf []byte, r blockplan.Range, j int) int {
	n := int(r.Len())
	d.engine.Fill(buf, r.Index)
	want := make([]byte, len(buf))
	d.engine.Fill(want, r.Index)
	unit := j &^ (pattern.Unit - 1)
	for k := unit; k < unit+pattern.Unit && k < n; k++ {
		if buf[k] != want[k] {
			return k
		}
	}
	return j
}

func (d *Driver) progress(k Kind, r blockplan.Range, st *Stats, t0, passStart time.Time) Progress {
	end := d.now()
	n := r.Len()
	st.BytesDone += n
	st.ElapsedInstant = end.Sub(t0)
	st.ElapsedOverall = end.Sub(passStart)
	return Progress{
		Pass:     k,
		Block:    r,
		Percent:  100 * (r.End + 1) / d.plan.DiskSize,
		Position: r.End + 1,
		Instant:  mbps(n, st.ElapsedInstant),
		Overall:  mbps(st.BytesDone, st.ElapsedOverall),
		Stats:    *st,
	}
}

func mbps(bytes uint64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) / secs / 1024 / 1024
}

func interrupted(ctx context.Context, k Kind, r blockplan.Range) error {
	select {
	case <-ctx.Done():
		return &InterruptedError{Pass: k, ResumeOffset: r.Start, Err: ctx.Err()}
	default:
		return nil
	}
}

type nopReporter struct{}

func (nopReporter) PassStarted(Kind, blockplan.Plan, uint64) {}
func (nopReporter) BlockDone(Progress)                      {}
func (nopReporter) PassFinished(Kind, Stats)                {}
