// Command gbcore is a headless CLI host for the emulator core: it loads
// a ROM, runs it for a fixed number of frames, and optionally persists
// battery RAM and a save-state blob to disk. It exists to exercise the
// Console's host-facing contract from the command line, not as a
// user-facing emulator shell.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/corecode/gbcore"
)

func main() {
	app := cli.NewApp()
	app.Name = "gbcore"
	app.Usage = "gbcore [options] <ROM file>"
	app.Description = "Headless host for the gbcore emulation core"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rom",
			Usage: "Path to the ROM file",
		},
		cli.IntFlag{
			Name:  "frames",
			Usage: "Number of frames to run before exiting",
			Value: 60,
		},
		cli.StringFlag{
			Name:  "save-data",
			Usage: "Path to battery RAM to load before running and persist after",
		},
		cli.StringFlag{
			Name:  "save-state-out",
			Usage: "Path to write a save-state blob after the run",
		},
		cli.StringFlag{
			Name:  "save-state-in",
			Usage: "Path to a save-state blob to load before running",
		},
		cli.StringFlag{
			Name:  "framebuffer-out",
			Usage: "Path to write the final frame as a raw ABGR8888 binary",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("gbcore exited with error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	romPath := c.String("rom")
	if romPath == "" {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return errors.New("no ROM path provided")
		}
	}

	frames := c.Int("frames")
	if frames <= 0 {
		return errors.New("--frames must be a positive value")
	}

	romData, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("reading rom: %w", err)
	}

	console := gbcore.New()
	if err := console.LoadROM(romData); err != nil {
		return fmt.Errorf("loading rom: %w", err)
	}

	info := console.Info()
	slog.Info("rom loaded", "variant", info.Variant, "clock_hz", info.ClockRateHz, "frame_rate_hz", info.FrameRateHz)

	if savePath := c.String("save-data"); savePath != "" {
		if data, err := os.ReadFile(savePath); err == nil {
			console.SetSaveData(data)
			slog.Info("save data loaded", "path", savePath, "bytes", len(data))
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("reading save data: %w", err)
		}
	}

	if statePath := c.String("save-state-in"); statePath != "" {
		blob, err := os.ReadFile(statePath)
		if err != nil {
			return fmt.Errorf("reading save state: %w", err)
		}
		if err := console.LoadState(blob); err != nil {
			return fmt.Errorf("loading save state: %w", err)
		}
		slog.Info("save state loaded", "path", statePath)
	}

	for i := 0; i < frames; i++ {
		console.RunOneFrame(0)
	}
	slog.Info("headless run complete", "frames", frames)

	if savePath := c.String("save-data"); savePath != "" {
		if data := console.SaveData(); data != nil {
			if err := os.WriteFile(savePath, data, 0644); err != nil {
				return fmt.Errorf("writing save data: %w", err)
			}
			slog.Info("save data written", "path", savePath, "bytes", len(data))
		}
	}

	if statePath := c.String("save-state-out"); statePath != "" {
		blob, err := console.SaveState()
		if err != nil {
			return fmt.Errorf("encoding save state: %w", err)
		}
		if err := os.WriteFile(statePath, blob, 0644); err != nil {
			return fmt.Errorf("writing save state: %w", err)
		}
		slog.Info("save state written", "path", statePath, "bytes", len(blob))
	}

	if fbPath := c.String("framebuffer-out"); fbPath != "" {
		if err := os.WriteFile(fbPath, console.Framebuffer(), 0644); err != nil {
			return fmt.Errorf("writing framebuffer: %w", err)
		}
		slog.Info("framebuffer written", "path", fbPath)
	}

	return nil
}
