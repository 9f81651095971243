// Package bus implements the address-space decoder that connects the CPU
// to cartridge ROM/RAM, VRAM, WRAM, OAM, the PPU/APU register windows, and
// the timer/serial/joypad/interrupt peripherals. Every access that crosses
// the bus also advances those peripherals by one M-cycle, so driving the
// CPU one opcode at a time is enough to keep the whole machine in lockstep.
package bus

import (
	"fmt"
	"log/slog"

	"github.com/corecode/gbcore/addr"
	"github.com/corecode/gbcore/audio"
	"github.com/corecode/gbcore/bit"
	"github.com/corecode/gbcore/cart"
	"github.com/corecode/gbcore/serial"
	"github.com/corecode/gbcore/video"
)

type memRegion uint8

const (
	regionROM memRegion = iota
	regionVRAM
	regionExtRAM
	regionWRAM
	regionEcho
	regionOAM
	regionUnused
	regionIO
	regionHRAM
)

// PPU is the subset of video.GPU the bus drives every M-cycle.
type PPU interface {
	Tick(cycles int)
}

// SerialPort is the minimal interface for a serial device connected to SB/SC.
type SerialPort interface {
	Write(address uint16, value byte)
	Read(address uint16) byte
	Tick(cycles int)
	Reset()
}

// Bus is the Game Boy's full address-space decoder. It implements
// cpu.Bus, video.Memory, and exposes the host-facing helpers (interrupt
// requests, joypad input) the root console package
// wires together.
type Bus struct {
	cart *cart.Cartridge
	mbc  cart.MBC

	vram     [2][0x2000]byte
	vramBank uint8

	wram     [8][0x1000]byte
	wramBank uint8

	oam    [0xA0]byte
	io     [0x80]byte // 0xFF00-0xFF7F, excluding registers special-cased below
	hram   [0x7F]byte // 0xFF80-0xFFFE
	ie     uint8
	ifReg  uint8

	regionMap [256]memRegion

	joypad *Joypad
	serial SerialPort
	timer  Timer
	APU    *audio.APU
	ppu    PPU

	isColor     bool
	doubleSpeed bool
	speedArmed  bool

	dmaActive    bool
	dmaSourceHi  uint8
	dmaIndex     int
	dmaSubCycles int

	hdmaSrc    uint16
	hdmaDst    uint16
	hdmaActive bool // H-Blank mode armed; nothing is copied and HDMA5 reads back 0x00 (active)

	logger *slog.Logger
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a bus with no cartridge loaded, equivalent to powering on a
// console with an empty slot.
func New(opts ...Option) *Bus {
	b := &Bus{
		joypad: NewJoypad(),
		APU:    audio.New(),
		logger: slog.Default(),
	}
	b.serial = serial.NewLogSink(func() { b.RequestInterrupt(addr.SerialInterrupt) })
	b.timer.TimerInterruptHandler = func() { b.RequestInterrupt(addr.TimerInterrupt) }
	initRegionMap(b)

	for _, opt := range opts {
		opt(b)
	}
	return b
}

// LoadCartridge replaces the inserted cartridge and resets banking state.
func (b *Bus) LoadCartridge(c *cart.Cartridge) {
	b.cart = c
	b.mbc = cart.NewMBC(c)
	b.isColor = c.IsColor
}

// AttachPPU wires the video subsystem so the bus can tick it every M-cycle.
// Done as a separate step from New because the PPU itself takes the bus
// (as a video.Memory) as a constructor argument.
func (b *Bus) AttachPPU(ppu PPU) { b.ppu = ppu }

// PPUMemory returns the video.Memory view the PPU should be constructed
// with. It bypasses the self-ticking Read/Write used by the CPU: the PPU's
// own register read/writes happen from inside a tick() call already (the
// bus ticks the PPU once per CPU M-cycle), so routing them back through
// the ticking Read/Write would recurse forever.
func (b *Bus) PPUMemory() video.Memory { return rawMemory{b} }

type rawMemory struct{ b *Bus }

func (r rawMemory) Read(address uint16) uint8         { return r.b.readRaw(address) }
func (r rawMemory) Write(address uint16, value uint8) { r.b.writeRaw(address, value) }
func (r rawMemory) RequestInterrupt(i addr.Interrupt)  { r.b.RequestInterrupt(i) }
func (r rawMemory) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, r.b.readRaw(address))
}

// SetTimerSeed initializes the internal timer divider seed and DIV register.
func (b *Bus) SetTimerSeed(seed uint16) { b.timer.SetSeed(seed) }

func initRegionMap(b *Bus) {
	for i := 0x00; i <= 0x7F; i++ {
		b.regionMap[i] = regionROM
	}
	for i := 0x80; i <= 0x9F; i++ {
		b.regionMap[i] = regionVRAM
	}
	for i := 0xA0; i <= 0xBF; i++ {
		b.regionMap[i] = regionExtRAM
	}
	for i := 0xC0; i <= 0xDF; i++ {
		b.regionMap[i] = regionWRAM
	}
	for i := 0xE0; i <= 0xFD; i++ {
		b.regionMap[i] = regionEcho
	}
	b.regionMap[0xFE] = regionOAM
	b.regionMap[0xFF] = regionIO
}

// Read implements cpu.Bus: every call also advances timer/serial/APU/PPU
// and the OAM-DMA/HDMA engines by one M-cycle, after the value is sampled.
func (b *Bus) Read(address uint16) uint8 {
	value := b.readRaw(address)
	b.tick()
	return value
}

// Write implements cpu.Bus.
func (b *Bus) Write(address uint16, value uint8) {
	b.writeRaw(address, value)
	b.tick()
}

// TickIdle implements cpu.Bus: an M-cycle with no bus transaction (internal
// CPU cycles, such as the idle cycle in 16-bit ALU ops).
func (b *Bus) TickIdle() { b.tick() }

func (b *Bus) tick() {
	cycles := 4
	if b.doubleSpeed {
		cycles = 2
	}
	b.timer.Tick(cycles)
	if b.serial != nil {
		b.serial.Tick(cycles)
	}
	b.APU.Tick(cycles)
	if b.ppu != nil {
		b.ppu.Tick(cycles)
	}
	b.stepDMA(cycles)
}

// PendingInterrupts implements cpu.Bus.
func (b *Bus) PendingInterrupts() uint8 { return b.ie & b.ifReg & 0x1F }

// ClearInterrupt implements cpu.Bus.
func (b *Bus) ClearInterrupt(mask uint8) { b.ifReg &^= mask }

// RequestInterrupt sets the interrupt flag (IF register) for the given
// interrupt source.
func (b *Bus) RequestInterrupt(interrupt addr.Interrupt) {
	b.ifReg |= uint8(interrupt)
}

// ReadBit reads a single bit from a register address.
func (b *Bus) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, b.Read(address))
}

// SetBit sets or clears a single bit of a register address.
func (b *Bus) SetBit(index uint8, address uint16, set bool) {
	value := b.readRaw(address)
	if set {
		value = bit.Set(index, value)
	} else {
		value = bit.Reset(index, value)
	}
	b.writeRaw(address, value)
}

func (b *Bus) readRaw(address uint16) uint8 {
	switch b.regionMap[address>>8] {
	case regionROM, regionExtRAM:
		if b.mbc == nil {
			return 0xFF
		}
		return b.mbc.Read(address)
	case regionVRAM:
		return b.vram[b.vramBank][address-0x8000]
	case regionWRAM:
		return b.readWRAM(address)
	case regionEcho:
		return b.readWRAM(address - 0x2000)
	case regionOAM:
		if b.dmaActive {
			return 0xFF
		}
		if address <= 0xFE9F {
			return b.oam[address-0xFE00]
		}
		return 0xFF
	case regionIO:
		return b.readIO(address)
	default:
		panic(fmt.Sprintf("bus: read from unmapped address 0x%04X", address))
	}
}

func (b *Bus) readWRAM(address uint16) uint8 {
	if address < 0xD000 {
		return b.wram[0][address-0xC000]
	}
	return b.wram[b.effectiveWRAMBank()][address-0xD000]
}

func (b *Bus) writeWRAM(address uint16, value uint8) {
	if address < 0xD000 {
		b.wram[0][address-0xC000] = value
		return
	}
	b.wram[b.effectiveWRAMBank()][address-0xD000] = value
}

func (b *Bus) effectiveWRAMBank() uint8 {
	if b.wramBank == 0 {
		return 1
	}
	return b.wramBank
}

func (b *Bus) readIO(address uint16) uint8 {
	switch address {
	case addr.P1:
		return b.joypad.Register()
	case addr.SB, addr.SC:
		return b.serial.Read(address)
	case addr.DIV, addr.TIMA, addr.TMA, addr.TAC:
		return b.timer.Read(address)
	case addr.IF:
		return b.ifReg | 0xE0
	case addr.IE:
		return b.ie
	case addr.VBK:
		if !b.isColor {
			return 0xFF
		}
		return b.vramBank | 0xFE
	case addr.SVBK:
		if !b.isColor {
			return 0xFF
		}
		return b.wramBank | 0xF8
	case addr.KEY1:
		if !b.isColor {
			return 0xFF
		}
		result := uint8(0x7E)
		if b.doubleSpeed {
			result |= 0x80
		}
		if b.speedArmed {
			result |= 0x01
		}
		return result
	case addr.HDMA5:
		if !b.isColor {
			return 0xFF
		}
		if b.hdmaActive {
			return 0x00
		}
		return 0xFF
	}
	if address >= addr.AudioStart && address <= addr.AudioEnd {
		return b.APU.ReadRegister(address)
	}
	if address >= 0xFF80 && address <= 0xFFFE {
		return b.hram[address-0xFF80]
	}
	return b.io[address-0xFF00]
}

func (b *Bus) writeRaw(address uint16, value uint8) {
	switch b.regionMap[address>>8] {
	case regionROM, regionExtRAM:
		if b.mbc == nil {
			b.logger.Warn("write to cartridge with no cartridge loaded", "addr", fmt.Sprintf("0x%04X", address))
			return
		}
		b.mbc.Write(address, value)
	case regionVRAM:
		b.vram[b.vramBank][address-0x8000] = value
	case regionWRAM:
		b.writeWRAM(address, value)
	case regionEcho:
		b.writeWRAM(address-0x2000, value)
	case regionOAM:
		if address <= 0xFE9F {
			b.oam[address-0xFE00] = value
		}
	case regionIO:
		b.writeIO(address, value)
	default:
		panic(fmt.Sprintf("bus: write to unmapped address 0x%04X", address))
	}
}

func (b *Bus) writeIO(address uint16, value uint8) {
	switch address {
	case addr.P1:
		b.joypad.Write(value)
		return
	case addr.SB, addr.SC:
		b.serial.Write(address, value)
		return
	case addr.DIV, addr.TIMA, addr.TMA, addr.TAC:
		b.timer.Write(address, value)
		return
	case addr.IF:
		b.ifReg = value & 0x1F
		return
	case addr.IE:
		b.ie = value
		return
	case addr.DMA:
		b.startDMA(value)
		return
	case addr.VBK:
		if b.isColor {
			b.vramBank = value & 0x01
		}
		return
	case addr.SVBK:
		if b.isColor {
			b.wramBank = value & 0x07
		}
		return
	case addr.KEY1:
		if b.isColor {
			b.speedArmed = value&0x01 != 0
		}
		return
	case addr.HDMA1:
		b.hdmaSrc = (b.hdmaSrc & 0x00FF) | uint16(value)<<8
		return
	case addr.HDMA2:
		b.hdmaSrc = (b.hdmaSrc & 0xFF00) | uint16(value&0xF0)
		return
	case addr.HDMA3:
		b.hdmaDst = (b.hdmaDst & 0x00FF) | uint16(value&0x1F)<<8
		return
	case addr.HDMA4:
		b.hdmaDst = (b.hdmaDst & 0xFF00) | uint16(value&0xF0)
		return
	case addr.HDMA5:
		b.startHDMA(value)
		return
	}
	if address >= addr.AudioStart && address <= addr.AudioEnd {
		b.APU.WriteRegister(address, value)
		return
	}
	if address >= 0xFF80 && address <= 0xFFFE {
		b.hram[address-0xFF80] = value
		return
	}
	b.io[address-0xFF00] = value
}

// startDMA begins a 160-byte OAM transfer from (value<<8) to 0xFE00-0xFE9F.
// Real hardware starts copying the M-cycle after this write and takes 160
// M-cycles total; stepDMA below advances one byte per M-cycle.
func (b *Bus) startDMA(value uint8) {
	b.dmaSourceHi = value
	b.dmaActive = true
	b.dmaIndex = 0
	b.dmaSubCycles = 0
	b.io[addr.DMA-0xFF00] = value
}

func (b *Bus) stepDMA(tcycles int) {
	if !b.dmaActive {
		return
	}
	b.dmaSubCycles += tcycles
	for b.dmaSubCycles >= 4 {
		b.dmaSubCycles -= 4
		src := uint16(b.dmaSourceHi)<<8 + uint16(b.dmaIndex)
		b.oam[b.dmaIndex] = b.readDMAByte(src)
		b.dmaIndex++
		if b.dmaIndex >= 160 {
			b.dmaActive = false
			return
		}
	}
}

// readDMAByte reads a DMA source byte without re-entering tick(), since
// stepDMA already runs inside a tick().
func (b *Bus) readDMAByte(address uint16) uint8 {
	if address >= 0xFE00 {
		return 0xFF // OAM/echo/unused is not a legal DMA source
	}
	return b.readRaw(address)
}

// startHDMA begins a transfer into VRAM. General-purpose transfers (bit 7
// clear) run to completion immediately; H-Blank-synchronized transfers
// (bit 7 set) are accepted but not actually clocked against mode-0 — a
// documented simplification, since nothing in this module's scope depends
// on the transfer being spread across H-Blank windows rather than instant.
func (b *Bus) startHDMA(value uint8) {
	if !b.isColor {
		return
	}
	length := (int(value&0x7F) + 1) * 16
	if value&0x80 != 0 {
		b.hdmaActive = true
		return
	}
	for i := 0; i < length; i++ {
		srcAddr := b.hdmaSrc + uint16(i)
		dstAddr := 0x8000 + (b.hdmaDst+uint16(i))&0x1FFF
		b.vram[b.vramBank][dstAddr-0x8000] = b.readDMAByte(srcAddr)
	}
	b.hdmaSrc += uint16(length)
	b.hdmaDst += uint16(length)
	b.hdmaActive = false
}

// TrySwitchSpeed executes the speed switch armed by a KEY1 write, called by
// the CPU's STOP handling. Returns whether a switch occurred.
func (b *Bus) TrySwitchSpeed() bool {
	if !b.isColor || !b.speedArmed {
		return false
	}
	b.doubleSpeed = !b.doubleSpeed
	b.speedArmed = false
	return true
}

// HandleKeyPress registers a joypad button press, raising the joypad
// interrupt if it caused a released-to-pressed transition.
func (b *Bus) HandleKeyPress(key JoypadKey) {
	if b.joypad.Press(key) {
		b.RequestInterrupt(addr.JoypadInterrupt)
	}
}

// HandleKeyRelease registers a joypad button release.
func (b *Bus) HandleKeyRelease(key JoypadKey) {
	b.joypad.Release(key)
}

// IsDoubleSpeed reports whether the bus is currently clocking in CGB
// double-speed mode.
func (b *Bus) IsDoubleSpeed() bool { return b.doubleSpeed }

// IsColorCartridge reports whether the loaded cartridge is Color-capable.
func (b *Bus) IsColorCartridge() bool { return b.isColor }

// Cartridge returns the currently loaded cartridge, or nil if none.
func (b *Bus) Cartridge() *cart.Cartridge { return b.cart }

// PeekMemory reads a byte without advancing any sub-system's clock, for
// host debuggers that inspect state between frames.
func (b *Bus) PeekMemory(address uint16) uint8 { return b.readRaw(address) }

// PokeMemory writes a byte without advancing any sub-system's clock.
func (b *Bus) PokeMemory(address uint16, value uint8) { b.writeRaw(address, value) }

// SaveRAM returns a copy of the cartridge's battery-backed RAM, or nil if
// the cartridge has none.
func (b *Bus) SaveRAM() []byte {
	if b.mbc == nil {
		return nil
	}
	src := b.mbc.RAM()
	if src == nil {
		return nil
	}
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// LoadRAM restores previously saved cartridge RAM.
func (b *Bus) LoadRAM(data []byte) {
	if b.mbc != nil {
		b.mbc.LoadRAM(data)
	}
}

// TickRTC advances the cartridge's real-time clock, for MBC3 carts that
// have one; a no-op for every other controller.
func (b *Bus) TickRTC(ns int64) {
	if m, ok := b.mbc.(*cart.MBC3); ok {
		m.TickRTC(ns)
	}
}

// JoypadState is the save-state snapshot of the joypad's latched button
// and selection-line state.
type JoypadState struct {
	Buttons, Dpad, Line uint8
}

// TimerState is the save-state snapshot of the DIV/TIMA/TMA/TAC timer.
type TimerState struct {
	SystemCounter       uint16
	LastTimerBit        bool
	TimaOverflow        int
	Div, Tima, Tma, Tac byte
}

// State is a complete save-state snapshot of everything the bus owns:
// memory, peripherals, and cartridge banking registers. CPU and PPU
// register their own State/Restore; the root package composes all three.
type State struct {
	VRAM     [2][0x2000]byte
	VRAMBank uint8
	WRAM     [8][0x1000]byte
	WRAMBank uint8
	OAM      [0xA0]byte
	IO       [0x80]byte
	HRAM     [0x7F]byte
	IE, IF   uint8

	Joypad JoypadState
	Timer  TimerState
	APU    audio.RegisterState
	MBC    cart.BankState

	IsColor, DoubleSpeed, SpeedArmed bool

	DMAActive              bool
	DMASourceHi            uint8
	DMAIndex, DMASubCycles int

	HDMASrc, HDMADst uint16
	HDMAActive       bool
}

// State captures a complete snapshot for save-state encoding.
func (b *Bus) State() State {
	s := State{
		VRAM: b.vram, VRAMBank: b.vramBank,
		WRAM: b.wram, WRAMBank: b.wramBank,
		OAM: b.oam, IO: b.io, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		Joypad: JoypadState{b.joypad.buttons, b.joypad.dpad, b.joypad.line},
		Timer: TimerState{
			SystemCounter: b.timer.systemCounter,
			LastTimerBit:  b.timer.lastTimerBit,
			TimaOverflow:  b.timer.timaOverflow,
			Div:           b.timer.div,
			Tima:          b.timer.tima,
			Tma:           b.timer.tma,
			Tac:           b.timer.tac,
		},
		APU:          b.APU.State(),
		IsColor:      b.isColor,
		DoubleSpeed:  b.doubleSpeed,
		SpeedArmed:   b.speedArmed,
		DMAActive:    b.dmaActive,
		DMASourceHi:  b.dmaSourceHi,
		DMAIndex:     b.dmaIndex,
		DMASubCycles: b.dmaSubCycles,
		HDMASrc:      b.hdmaSrc,
		HDMADst:      b.hdmaDst,
		HDMAActive:   b.hdmaActive,
	}
	if b.mbc != nil {
		s.MBC = b.mbc.BankState()
	}
	return s
}

// Restore installs a previously captured State.
func (b *Bus) Restore(s State) {
	b.vram, b.vramBank = s.VRAM, s.VRAMBank
	b.wram, b.wramBank = s.WRAM, s.WRAMBank
	b.oam, b.io, b.hram = s.OAM, s.IO, s.HRAM
	b.ie, b.ifReg = s.IE, s.IF

	b.joypad.buttons, b.joypad.dpad, b.joypad.line = s.Joypad.Buttons, s.Joypad.Dpad, s.Joypad.Line

	b.timer.systemCounter = s.Timer.SystemCounter
	b.timer.lastTimerBit = s.Timer.LastTimerBit
	b.timer.timaOverflow = s.Timer.TimaOverflow
	b.timer.div, b.timer.tima, b.timer.tma, b.timer.tac = s.Timer.Div, s.Timer.Tima, s.Timer.Tma, s.Timer.Tac

	b.APU.Restore(s.APU)
	if b.mbc != nil {
		b.mbc.RestoreBankState(s.MBC)
	}

	b.isColor, b.doubleSpeed, b.speedArmed = s.IsColor, s.DoubleSpeed, s.SpeedArmed
	b.dmaActive, b.dmaSourceHi, b.dmaIndex, b.dmaSubCycles = s.DMAActive, s.DMASourceHi, s.DMAIndex, s.DMASubCycles
	b.hdmaSrc, b.hdmaDst, b.hdmaActive = s.HDMASrc, s.HDMADst, s.HDMAActive
}

var _ video.Memory = (*Bus)(nil)
