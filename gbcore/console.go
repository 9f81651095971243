// Package gbcore is the root of the emulator core: it wires the bus, CPU,
// PPU and APU into a single Console and exposes the host-facing contract
// (load/reset/run-one-frame/memory access/save-state) documented by the
// project's specification. Everything below the host boundary — ticking
// order, interrupt dispatch, bank switching — lives in the cart/bus/cpu/
// video/audio packages; this package only composes them.
package gbcore

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/corecode/gbcore/bus"
	"github.com/corecode/gbcore/cart"
	"github.com/corecode/gbcore/cpu"
	"github.com/corecode/gbcore/timing"
	"github.com/corecode/gbcore/video"
)

// Button is one of the eight Game Boy input lines. Values match the
// bitfield layout run-one-frame's caller uses: bit index equals the
// button's position in that bitfield.
type Button uint8

const (
	ButtonA Button = iota
	ButtonB
	_
	_
	_
	_
	ButtonStart
	ButtonSelect
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
)

var buttonToJoypadKey = map[Button]bus.JoypadKey{
	ButtonA:      bus.JoypadA,
	ButtonB:      bus.JoypadB,
	ButtonStart:  bus.JoypadStart,
	ButtonSelect: bus.JoypadSelect,
	ButtonUp:     bus.JoypadUp,
	ButtonDown:   bus.JoypadDown,
	ButtonLeft:   bus.JoypadLeft,
	ButtonRight:  bus.JoypadRight,
}

// Info describes the console instance the way a host shell would display
// it, or probe it to decide how to drive it.
type Info struct {
	Name        string
	Variant     string // "DMG" or "CGB"
	FrameRateHz float64
	ClockRateHz int
	Extensions  []string
}

// Console is the full emulation core: bus, CPU, PPU and APU wired
// together behind the host-facing operations in this package. The zero
// value is not usable; construct with New.
type Console struct {
	bus *bus.Bus
	cpu *cpu.CPU
	gpu *video.GPU

	romData     []byte
	loaded      bool
	prevButtons uint16

	audioCallback func(samples []int16, sampleRate int)

	logger *slog.Logger
}

// Option configures a Console at construction time.
type Option func(*Console)

// WithLogger overrides the default slog logger used for load/reset
// diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) { c.logger = logger }
}

// New creates a Console with no cartridge loaded. Call LoadROM before
// RunOneFrame does anything useful; until then the bus reads back 0xFF
// and writes are no-ops, same as a console with an empty cartridge slot.
func New(opts ...Option) *Console {
	c := &Console{logger: slog.Default()}
	c.wire()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wire (re)builds the bus/CPU/PPU trio from scratch. Used by New and by
// Reset/UnloadROM, which both want post-boot hardware state rather than
// trying to roll every sub-system's mutable fields back by hand.
func (c *Console) wire() {
	b := bus.New()
	gpu := video.NewGpu(b.PPUMemory())
	b.AttachPPU(gpu)

	c.bus = b
	c.gpu = gpu
	c.cpu = cpu.New(b)
}

// Info reports static facts about this console build and, once a
// cartridge is loaded, the variant it derived from the header.
func (c *Console) Info() Info {
	variant := "DMG"
	clockRate := timing.CPUFrequency
	if c.bus.IsColorCartridge() {
		variant = "CGB"
	}
	if c.bus.IsDoubleSpeed() {
		clockRate *= 2
	}
	return Info{
		Name:        "gbcore",
		Variant:     variant,
		FrameRateHz: timing.TargetFPS(),
		ClockRateHz: clockRate,
		Extensions:  []string{".gb", ".gbc"},
	}
}

// LoadROM parses the cartridge header in data and wires it in. No prior
// state is mutated if parsing fails.
func (c *Console) LoadROM(data []byte) error {
	cartridge, err := cart.Load(data)
	if err != nil {
		return fmt.Errorf("gbcore: load rom: %w", err)
	}

	c.wire()
	c.bus.LoadCartridge(cartridge)
	c.gpu.SetColorMode(cartridge.IsColor)
	c.cpu.Reset(cartridge.IsColor)
	c.installPostBootIO()
	c.bus.SetTimerSeed(0xABCC)

	owned := make([]byte, len(data))
	copy(owned, data)
	c.romData = owned
	c.loaded = true
	c.prevButtons = 0

	c.logger.Debug("rom loaded", "title", cartridge.Title, "kind", cartridge.Kind, "color", cartridge.IsColor)
	return nil
}

// UnloadROM clears the inserted cartridge, returning the console to the
// empty-slot state a fresh New would produce.
func (c *Console) UnloadROM() {
	c.wire()
	c.romData = nil
	c.loaded = false
	c.prevButtons = 0
}

// Reset purges all mutable state back to post-boot defaults, preserving
// only the loaded cartridge's battery-backed RAM.
func (c *Console) Reset() {
	if !c.loaded {
		c.wire()
		return
	}

	ram := c.bus.SaveRAM()
	data := c.romData

	cartridge, err := cart.Load(data)
	if err != nil {
		// Already parsed successfully once at LoadROM time; a failure
		// here would mean romData was corrupted in-process, which never
		// happens through this package's own API.
		panic(fmt.Sprintf("gbcore: reset: re-parsing previously loaded rom failed: %v", err))
	}

	c.wire()
	c.bus.LoadCartridge(cartridge)
	c.bus.LoadRAM(ram)
	c.gpu.SetColorMode(cartridge.IsColor)
	c.cpu.Reset(cartridge.IsColor)
	c.installPostBootIO()
	c.bus.SetTimerSeed(0xABCC)
	c.prevButtons = 0
}

// installPostBootIO writes the handful of IO registers games expect to
// already hold their boot-ROM-exit values, since this core never runs a
// boot ROM image (spec's documented post-boot state).
func (c *Console) installPostBootIO() {
	c.bus.PokeMemory(0xFF05, 0x00) // TIMA
	c.bus.PokeMemory(0xFF06, 0x00) // TMA
	c.bus.PokeMemory(0xFF07, 0x00) // TAC
	c.bus.PokeMemory(0xFF10, 0x80) // NR10
	c.bus.PokeMemory(0xFF11, 0xBF) // NR11
	c.bus.PokeMemory(0xFF12, 0xF3) // NR12
	c.bus.PokeMemory(0xFF14, 0xBF) // NR14
	c.bus.PokeMemory(0xFF16, 0x3F) // NR21
	c.bus.PokeMemory(0xFF19, 0xBF) // NR24
	c.bus.PokeMemory(0xFF1A, 0x7F) // NR30
	c.bus.PokeMemory(0xFF1C, 0x9F) // NR32
	c.bus.PokeMemory(0xFF1E, 0xBF) // NR34
	c.bus.PokeMemory(0xFF20, 0xFF) // NR41
	c.bus.PokeMemory(0xFF23, 0xBF) // NR44
	c.bus.PokeMemory(0xFF24, 0x77) // NR50
	c.bus.PokeMemory(0xFF25, 0xF3) // NR51
	c.bus.PokeMemory(0xFF26, 0xF1) // NR52
	c.bus.PokeMemory(0xFF40, 0x91) // LCDC
	c.bus.PokeMemory(0xFF47, 0xFC) // BGP
	c.bus.PokeMemory(0xFF48, 0xFF) // OBP0
	c.bus.PokeMemory(0xFF49, 0xFF) // OBP1
}

// RunOneFrame sets the joypad input for this frame, then runs exactly
// one frame's worth of emulation (70224 T-cycles). buttons is encoded as
// documented: bit0=A, bit1=B, bit6=Start, bit7=Select, bit8=Up, bit9=Down,
// bit10=Left, bit11=Right.
func (c *Console) RunOneFrame(buttons uint16) {
	c.applyButtons(buttons)

	total := 0
	for total < timing.CyclesPerFrame {
		mCycles := c.cpu.Step()
		tCyclesPerM := 4
		if c.bus.IsDoubleSpeed() {
			tCyclesPerM = 2
		}
		total += mCycles * tCyclesPerM
	}

	c.bus.TickRTC(int64(timing.FrameDuration()))

	if c.audioCallback != nil {
		samples := c.bus.APU.GetSamples(735) // 44100 Hz / 60 frames per second
		if len(samples) > 0 {
			c.audioCallback(samples, 44100)
		}
	}
}

func (c *Console) applyButtons(buttons uint16) {
	changed := buttons ^ c.prevButtons
	if changed == 0 {
		return
	}
	for bitIdx := 0; bitIdx < 16; bitIdx++ {
		mask := uint16(1) << uint(bitIdx)
		if changed&mask == 0 {
			continue
		}
		key, ok := buttonToJoypadKey[Button(bitIdx)]
		if !ok {
			continue
		}
		if buttons&mask != 0 {
			c.bus.HandleKeyPress(key)
			if c.cpu.IsStopped() {
				c.cpu.Resume()
			}
		} else {
			c.bus.HandleKeyRelease(key)
		}
	}
	c.prevButtons = buttons
}

// Framebuffer returns the most recently completed frame as 160*144*4
// bytes in alpha-blue-green-red little-endian order (byte 0 of each pixel
// is alpha, byte 3 is red): this is binary.LittleEndian.PutUint32 applied
// to each 0xRRGGBBAA color the PPU produces.
func (c *Console) Framebuffer() []byte {
	pixels := c.gpu.GetFrameBuffer().ToSlice()
	out := make([]byte, len(pixels)*4)
	for i, p := range pixels {
		binary.LittleEndian.PutUint32(out[i*4:], p)
	}
	return out
}

// SetAudioCallback installs a push-mode audio sink, invoked once per
// RunOneFrame with that frame's interleaved stereo samples. Passing nil
// disables push delivery; DrainAudio remains available either way.
func (c *Console) SetAudioCallback(fn func(samples []int16, sampleRate int)) {
	c.audioCallback = fn
}

// DrainAudio pulls up to maxSamples stereo sample pairs (2*maxSamples
// int16 values) from the APU's buffer, for hosts that prefer to pull
// rather than register a callback.
func (c *Console) DrainAudio(maxSamples int) []int16 {
	return c.bus.APU.GetSamples(maxSamples)
}

// ReadMemory performs a direct bus read for host debuggers, without
// advancing any sub-system's clock.
func (c *Console) ReadMemory(address uint16) uint8 {
	return c.bus.PeekMemory(address)
}

// WriteMemory performs a direct bus write for host debuggers, without
// advancing any sub-system's clock.
func (c *Console) WriteMemory(address uint16, value uint8) {
	c.bus.PokeMemory(address, value)
}

// SaveData returns a copy of the cartridge's battery-backed RAM, for the
// host to persist across sessions. Returns nil if the cartridge has none.
func (c *Console) SaveData() []byte {
	return c.bus.SaveRAM()
}

// SetSaveData restores previously persisted cartridge RAM. Must be
// called after LoadROM for the same cartridge; sizes are expected to
// match the cartridge's declared RAM size.
func (c *Console) SetSaveData(data []byte) {
	c.bus.LoadRAM(data)
}

// SetMonochromePalette installs a host-chosen four-shade palette for
// monochrome rendering. Ignored once a Color cartridge is loaded.
func (c *Console) SetMonochromePalette(colors [4]video.GBColor) {
	c.gpu.SetPalette(colors)
}

// CPU exposes the underlying CPU for debug introspection (register dump,
// disassembly at the current PC).
func (c *Console) CPU() *cpu.CPU { return c.cpu }

// Bus exposes the underlying bus for debug introspection (OAM/VRAM
// snapshot, IO register dump).
func (c *Console) Bus() *bus.Bus { return c.bus }
