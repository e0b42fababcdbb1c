package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"preclear/blockplan"
	"preclear/pass"
	"preclear/pattern"
	"preclear/retrodfrg"
)

// run performs one preclear of cfg.Path. cfg must already be validated.
func run(ctx context.Context, cfg *Config, out io.Writer, log *zap.Logger) error {
	mode := cfg.Mode()
	if mode.Writes() && !cfg.Force {
		if err := checkNotMounted(cfg.Path); err != nil {
			return err
		}
	}

	flag := os.O_RDONLY
	if mode.Writes() {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(cfg.Path, flag, 0)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer f.Close()

	geo, err := deviceGeometry(f)
	if err != nil {
		return err
	}
	plan, err := blockplan.New(geo.Size, geo.SectorSize, cfg.BlockSizeOverride())
	if err != nil {
		return &ConfigError{Err: err}
	}
	if _, err := plan.StartBlock(cfg.StartOffset()); err != nil {
		return configErrorf("start offset %d: %w", cfg.StartOffset(), err)
	}

	var engine *pattern.Engine
	var ki keyInfo
	if mode == pass.ModeRandom {
		key, supplied, err := cfg.KeyMaterial()
		if err != nil {
			return err
		}
		if !supplied {
			if key, err = pattern.GenerateKey(); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
		}
		var opts []pattern.Option
		if cfg.PerBlockTweak {
			opts = append(opts, pattern.WithPerBlockTweak())
		}
		if engine, err = pattern.New(key, opts...); err != nil {
			return err
		}
		ki = keyInfo{text: key.String(), supplied: supplied, perBlock: engine.PerBlockTweak()}
	}

	colors := paletteFor(out)
	printHeader(out, colors, cfg, plan, ki)
	log = log.With(zap.String("path", cfg.Path), zap.Stringer("mode", mode))
	log.Info("plan ready",
		zap.Uint64("disk_size", plan.DiskSize),
		zap.Uint32("sector_size", plan.SectorSize),
		zap.Uint64("block_size", plan.BlockSize),
		zap.Uint64("block_count", plan.BlockCount))

	opts := pass.Options{
		Mode:        mode,
		Engine:      engine,
		StartOffset: cfg.StartOffset(),
		Reporter:    &lineReporter{w: out},
		Logger:      log,
	}

	var tui *tuiReporter
	if cfg.TUI {
		ui, err := retrodfrg.NewUI()
		if err != nil {
			return fmt.Errorf("start terminal ui: %w", err)
		}
		defer ui.Close()

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-ui.Done():
				cancel()
			case <-ctx.Done():
			}
		}()

		tui = newTUIReporter(ui, cfg.Path, mode, ki.text)
		opts.Reporter = tui
		opts.Logger = zap.NewNop()
	}

	d, err := pass.New(blockFile{File: f, device: geo.Device}, plan, opts)
	if err != nil {
		return err
	}
	err = d.Run(ctx)
	if tui != nil {
		hold := 2 * time.Second
		if err != nil {
			tui.fail(err)
			hold = 10 * time.Second
		}
		var ie *pass.InterruptedError
		if !errors.As(err, &ie) {
			_ = tui.ui.WaitWithStop(hold)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, colors.good(summary(mode)))
	return nil
}

func printHeader(w io.Writer, c palette, cfg *Config, plan blockplan.Plan, key keyInfo) {
	fmt.Fprintf(w, "Disk: %s\n", c.value(cfg.Path))
	fmt.Fprintf(w, "  Disk size .: %s\n", c.value(fmt.Sprintf("%d (%s)", plan.DiskSize, human(plan.DiskSize))))
	fmt.Fprintf(w, "  Sector size: %s\n", c.value(fmt.Sprint(plan.SectorSize)))
	if cfg.Verbose {
		fmt.Fprintf(w, "  Block count: %s\n", c.value(fmt.Sprint(plan.BlockCount)))
		fmt.Fprintf(w, "  Block size : %s\n", c.value(fmt.Sprintf("%d (%s)", plan.BlockSize, human(plan.BlockSize))))
	}
	if cfg.StartOffset() > 0 {
		fmt.Fprintf(w, "  Start at ..: %s\n", c.given(fmt.Sprint(cfg.StartOffset())))
	}
	if key.text != "" {
		k := c.value(key.text)
		if key.supplied {
			k = c.given(key.text)
		}
		fmt.Fprintf(w, "  Key .......: %s\n", k)
		if key.perBlock {
			fmt.Fprintf(w, "  Tweak .....: %s\n", c.value("per block"))
		}
	}
}

// keyInfo is what the header shows about the pattern key.
type keyInfo struct {
	text     string
	supplied bool
	perBlock bool
}

func summary(m pass.Mode) string {
	switch m {
	case pass.ModeRandom:
		return "Read/write test was completed successfully"
	case pass.ModeZero:
		return "Cleaning disk was completed successfully"
	default:
		return "Read test was completed successfully"
	}
}
