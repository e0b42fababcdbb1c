package pass

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"preclear/blockplan"
	"preclear/pattern"
)

const mib = 1 << 20

// memDevice is an in-memory device that can corrupt data between passes.
type memDevice struct {
	data       []byte
	afterWrite func([]byte)
	writes     int
	failWrite  error
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	if m.failWrite != nil {
		return 0, m.failWrite
	}
	if off+int64(len(p)) > int64(len(m.data)) {
		return 0, errors.New("write past end")
	}
	m.writes++
	return copy(m.data[off:], p), nil
}

func (m *memDevice) Sync() error {
	if m.afterWrite != nil {
		m.afterWrite(m.data)
	}
	return nil
}

type recorder struct {
	started  []Kind
	starts   []uint64
	events   []Progress
	finished map[Kind]Stats
}

func (r *recorder) PassStarted(k Kind, _ blockplan.Plan, startBlock uint64) {
	r.started = append(r.started, k)
	r.starts = append(r.starts, startBlock)
}

func (r *recorder) BlockDone(p Progress) {
	r.events = append(r.events, p)
}

func (r *recorder) PassFinished(k Kind, s Stats) {
	if r.finished == nil {
		r.finished = map[Kind]Stats{}
	}
	r.finished[k] = s
}

func (r *recorder) pass(k Kind) []Progress {
	var out []Progress
	for _, e := range r.events {
		if e.Pass == k {
			out = append(out, e)
		}
	}
	return out
}

func fixedKey(t *testing.T) pattern.Key {
	t.Helper()
	k, err := pattern.ParseKey("0f1e2d3c4b5a69788796a5b4c3d2e1f00f1e2d3c4b5a69788796a5b4c3d2e1f0")
	require.NoError(t, err)
	return k
}

func newEngine(t *testing.T, opts ...pattern.Option) *pattern.Engine {
	t.Helper()
	e, err := pattern.New(fixedKey(t), opts...)
	require.NoError(t, err)
	return e
}

// stepClock advances one second on every call.
func stepClock() func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRandomWriteVerifiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 10*mib), 0o600))

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	plan, err := blockplan.New(10*mib, 0, mib)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(f, plan, Options{
		Mode:     ModeRandom,
		Engine:   newEngine(t),
		Reporter: rec,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []Kind{Write, Verify}, rec.started)
	assert.Len(t, rec.pass(Write), 10)
	assert.Len(t, rec.pass(Verify), 10)
	assert.Equal(t, uint64(10*mib), rec.finished[Write].BytesDone)
	assert.Equal(t, uint64(10*mib), rec.finished[Verify].BytesDone)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	first := data[:mib]
	assert.NotEqual(t, make([]byte, mib), first)
	for i := 1; i < 10; i++ {
		assert.True(t, bytes.Equal(first, data[i*mib:(i+1)*mib]), "block %d differs", i)
	}

	last := rec.pass(Verify)[9]
	assert.Equal(t, uint64(100), last.Percent)
	assert.Equal(t, uint64(10*mib), last.Position)
}

func TestCorruptionReportsOffset(t *testing.T) {
	const bad = 3*mib + 12345
	dev := &memDevice{
		data: make([]byte, 10*mib),
		afterWrite: func(b []byte) {
			b[bad] ^= 0x40
		},
	}
	plan, err := blockplan.New(10*mib, 0, mib)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t), Reporter: rec})
	require.NoError(t, err)

	err = d.Run(context.Background())
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, uint64(bad), mm.Offset)
	assert.Equal(t, uint64(3), mm.Block)
	assert.Len(t, rec.pass(Verify), 3, "verify must stop at the first bad block")
	assert.NotContains(t, rec.finished, Verify)
}

func TestZeroModeCorruption(t *testing.T) {
	dev := &memDevice{
		data: bytes.Repeat([]byte{0xff}, 3*mib),
		afterWrite: func(b []byte) {
			b[2*mib+1] = 1
		},
	}
	plan, err := blockplan.New(3*mib, 0, mib)
	require.NoError(t, err)

	d, err := New(dev, plan, Options{Mode: ModeZero})
	require.NoError(t, err)

	err = d.Run(context.Background())
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, uint64(2*mib+1), mm.Offset)
	assert.EqualError(t, err, "validation failed at byte offset 2097153")
}

func TestZeroModeClean(t *testing.T) {
	dev := &memDevice{data: bytes.Repeat([]byte{0xaa}, 2*mib+512)}
	plan, err := blockplan.New(uint64(len(dev.data)), 512, mib)
	require.NoError(t, err)

	d, err := New(dev, plan, Options{Mode: ModeZero})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, make([]byte, len(dev.data)), dev.data)
	assert.Equal(t, 3, dev.writes)
}

func TestReadModeSkipsValidation(t *testing.T) {
	dev := &memDevice{data: bytes.Repeat([]byte{0x5a}, 4*mib)}
	plan, err := blockplan.New(4*mib, 0, mib)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(dev, plan, Options{Mode: ModeRead, Reporter: rec})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []Kind{Verify}, rec.started)
	assert.Zero(t, dev.writes)
	assert.Len(t, rec.events, 4)
	for _, e := range rec.events {
		assert.Equal(t, "read", e.Pass.Verb())
	}
}

func TestStartOffsetLeavesEarlierBlocks(t *testing.T) {
	dev := &memDevice{data: bytes.Repeat([]byte{0x77}, 10*mib)}
	plan, err := blockplan.New(10*mib, 0, mib)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(dev, plan, Options{
		Mode:        ModeRandom,
		Engine:      newEngine(t),
		StartOffset: 5 * mib,
		Reporter:    rec,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), d.StartBlock())
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []uint64{5, 5}, rec.starts)
	assert.Equal(t, bytes.Repeat([]byte{0x77}, 5*mib), dev.data[:5*mib])
	assert.NotEqual(t, bytes.Repeat([]byte{0x77}, mib), dev.data[5*mib:6*mib])

	w := rec.pass(Write)
	require.Len(t, w, 5)
	assert.Equal(t, uint64(5), w[0].Block.Index)
	assert.Equal(t, uint64(5*mib), w[0].Block.Start)
	assert.Equal(t, uint64(5*mib), rec.finished[Write].BytesDone)
}

func TestStartOffsetBeyondEnd(t *testing.T) {
	plan, err := blockplan.New(mib, 0, 0)
	require.NoError(t, err)
	_, err = New(&memDevice{data: make([]byte, mib)}, plan, Options{StartOffset: mib})
	assert.ErrorIs(t, err, blockplan.ErrStartBeyondEnd)
}

func TestRandomModeNeedsEngine(t *testing.T) {
	plan, err := blockplan.New(mib, 0, 0)
	require.NoError(t, err)
	_, err = New(&memDevice{data: make([]byte, mib)}, plan, Options{Mode: ModeRandom})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestPerBlockTweakVerifies(t *testing.T) {
	dev := &memDevice{data: make([]byte, 4*64)}
	plan, err := blockplan.New(uint64(len(dev.data)), 0, 64)
	require.NoError(t, err)

	d, err := New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t, pattern.WithPerBlockTweak())})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	assert.False(t, bytes.Equal(dev.data[:64], dev.data[64:128]))
}

func TestOddSizedFinalBlock(t *testing.T) {
	// 1000 bytes with 64-byte blocks: the last block has 40 bytes, which ends
	// in the middle of an XTS unit.
	for _, opts := range [][]pattern.Option{nil, {pattern.WithPerBlockTweak()}} {
		dev := &memDevice{data: make([]byte, 1000)}
		plan, err := blockplan.New(1000, 0, 64)
		require.NoError(t, err)
		require.Equal(t, uint64(16), plan.BlockCount)

		d, err := New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t, opts...)})
		require.NoError(t, err)
		require.NoError(t, d.Run(context.Background()))
	}

	dev := &memDevice{
		data:       make([]byte, 1000),
		afterWrite: func(b []byte) { b[999] ^= 1 },
	}
	plan, err := blockplan.New(1000, 0, 64)
	require.NoError(t, err)
	d, err := New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t)})
	require.NoError(t, err)
	var mm *MismatchError
	require.ErrorAs(t, d.Run(context.Background()), &mm)
	assert.Equal(t, uint64(999), mm.Offset)
}

func TestThroughputAccounting(t *testing.T) {
	dev := &memDevice{data: make([]byte, 3*mib)}
	plan, err := blockplan.New(3*mib, 0, mib)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(dev, plan, Options{Mode: ModeZero, Reporter: rec, Now: stepClock()})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	w := rec.pass(Write)
	require.Len(t, w, 3)
	for i, e := range w {
		assert.InDelta(t, 1.0, e.Instant, 1e-9)
		assert.InDelta(t, 0.5, e.Overall, 1e-9)
		assert.Equal(t, time.Second, e.Stats.ElapsedInstant)
		assert.Equal(t, time.Duration(2*(i+1))*time.Second, e.Stats.ElapsedOverall)
		assert.Equal(t, uint64(i+1)*mib, e.Stats.BytesDone)
	}
	assert.Equal(t, []uint64{33, 66, 100}, []uint64{w[0].Percent, w[1].Percent, w[2].Percent})
}

func TestZeroElapsedGivesZeroSpeed(t *testing.T) {
	frozen := time.Unix(100, 0)
	dev := &memDevice{data: make([]byte, mib)}
	plan, err := blockplan.New(mib, 0, 0)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(dev, plan, Options{Mode: ModeRead, Reporter: rec, Now: func() time.Time { return frozen }})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	require.Len(t, rec.events, 1)
	assert.Zero(t, rec.events[0].Instant)
	assert.Zero(t, rec.events[0].Overall)
}

func TestWriteErrorPropagates(t *testing.T) {
	boom := errors.New("EIO")
	dev := &memDevice{data: make([]byte, 2*mib), failWrite: boom}
	plan, err := blockplan.New(2*mib, 0, mib)
	require.NoError(t, err)

	d, err := New(dev, plan, Options{Mode: ModeZero})
	require.NoError(t, err)
	err = d.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "write block 0")
}

func TestShortReadIsAnError(t *testing.T) {
	// The plan claims more bytes than the device holds.
	dev := &memDevice{data: make([]byte, mib)}
	plan, err := blockplan.New(2*mib, 0, mib)
	require.NoError(t, err)

	d, err := New(dev, plan, Options{Mode: ModeRead})
	require.NoError(t, err)
	err = d.Run(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "read block 1")
}

// eofDevice reports io.EOF along with a full read that ends at the last
// byte, which io.ReaderAt allows.
type eofDevice struct {
	*memDevice
}

func (e eofDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := e.memDevice.ReadAt(p, off)
	if err == nil && off+int64(n) == int64(len(e.data)) {
		return n, io.EOF
	}
	return n, err
}

func TestFullReadWithEOFIsAccepted(t *testing.T) {
	dev := eofDevice{&memDevice{data: make([]byte, 3*mib+100)}}
	plan, err := blockplan.New(3*mib+100, 0, mib)
	require.NoError(t, err)

	rec := &recorder{}
	d, err := New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t), Reporter: rec})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))
	assert.Len(t, rec.pass(Verify), 4)
}

func TestOversizedBlockUsesDeviceSizedBuffer(t *testing.T) {
	dev := &memDevice{data: make([]byte, 1000)}
	plan, err := blockplan.New(1000, 0, 1<<40)
	require.NoError(t, err)

	d, err := New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t)})
	require.NoError(t, err)
	require.NoError(t, d.Run(context.Background()))

	dev.afterWrite = func(b []byte) { b[777] ^= 0x10 }
	d, err = New(dev, plan, Options{Mode: ModeRandom, Engine: newEngine(t)})
	require.NoError(t, err)
	err = d.Run(context.Background())
	var mm *MismatchError
	require.ErrorAs(t, err, &mm)
	assert.Equal(t, uint64(777), mm.Offset)
}

func TestCancelledRunReportsResumeOffset(t *testing.T) {
	dev := &memDevice{data: make([]byte, 4*mib)}
	plan, err := blockplan.New(4*mib, 0, mib)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &cancelAfter{n: 2, cancel: cancel}
	d, err := New(dev, plan, Options{Mode: ModeZero, Reporter: rec})
	require.NoError(t, err)

	err = d.Run(ctx)
	var ie *InterruptedError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, Write, ie.Pass)
	assert.Equal(t, uint64(2*mib), ie.ResumeOffset)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, dev.writes)
}

type cancelAfter struct {
	n      int
	seen   int
	cancel context.CancelFunc
}

func (c *cancelAfter) PassStarted(Kind, blockplan.Plan, uint64) {}
func (c *cancelAfter) PassFinished(Kind, Stats)                {}
func (c *cancelAfter) BlockDone(Progress) {
	c.seen++
	if c.seen == c.n {
		c.cancel()
	}
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "read", ModeRead.String())
	assert.Equal(t, "zero", ModeZero.String())
	assert.Equal(t, "random", ModeRandom.String())
	assert.False(t, ModeRead.Writes())
	assert.True(t, ModeZero.Writes())
	assert.Equal(t, "wrote", Write.Verb())
	assert.Equal(t, "verify", Verify.String())
}
