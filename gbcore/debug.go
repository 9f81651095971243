package gbcore

import (
	"github.com/corecode/gbcore/bit"
	"github.com/corecode/gbcore/debug"
)

// debugMemoryReader adapts Console's non-ticking Peek access to
// debug.MemoryReader: introspection must never advance the timer, APU, or
// PPU the way a real CPU bus access would.
type debugMemoryReader struct {
	c *Console
}

func (r debugMemoryReader) Read(address uint16) uint8 { return r.c.ReadMemory(address) }

func (r debugMemoryReader) ReadBit(index uint8, address uint16) bool {
	return bit.IsSet(index, r.c.ReadMemory(address))
}

// disasmWindowSize is how many bytes of memory DebugSnapshot captures
// around the program counter for disassembly.
const disasmWindowSize = 64

// DebugSnapshot captures a point-in-time view of OAM, VRAM, CPU registers,
// and the memory around the program counter, for a host-side debugger.
// state records why the snapshot was taken (running/paused/single-step);
// Console itself has no notion of debugger state.
func (c *Console) DebugSnapshot(state debug.DebuggerState) *debug.CompleteDebugData {
	reader := debugMemoryReader{c}

	lcdc := c.ReadMemory(0xFF40)
	spriteHeight := 8
	if lcdc&0x04 != 0 {
		spriteHeight = 16
	}
	currentLine := int(c.ReadMemory(0xFF44))

	pc := c.cpu.PC()
	start := uint16(0)
	if pc > disasmWindowSize/2 {
		start = pc - disasmWindowSize/2
	}
	snapshot := &debug.MemorySnapshot{StartAddr: start, Bytes: make([]uint8, disasmWindowSize)}
	for i := range snapshot.Bytes {
		snapshot.Bytes[i] = c.ReadMemory(start + uint16(i))
	}

	s := c.cpu.State()
	cpuState := &debug.CPUState{
		A: s.A, F: s.F, B: s.B, C: s.C, D: s.D, E: s.E, H: s.H, L: s.L,
		SP:     s.SP,
		PC:     s.PC,
		IME:    s.IME,
		Cycles: c.cpu.Cycles(),
	}

	return &debug.CompleteDebugData{
		OAM:             debug.ExtractOAMDataFromReader(reader, currentLine, spriteHeight),
		VRAM:            debug.ExtractVRAMDataFromReader(reader),
		CPU:             cpuState,
		Memory:          snapshot,
		DebuggerState:   state,
		InterruptEnable: c.ReadMemory(0xFFFF),
		InterruptFlags:  c.ReadMemory(0xFF0F),
	}
}
