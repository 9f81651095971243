package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBus is a minimal flat-memory Bus fake for CPU unit tests: a 64KB
// array plus an interrupt-enable/interrupt-flag pair, with no timer/DMA/
// serial side effects. It counts M-cycles the same way the real bus
// does, so tests can assert on Step's returned cycle count.
type testBus struct {
	mem    [0x10000]uint8
	ie     uint8
	iflag  uint8
	cycles int
}

func newTestBus() *testBus { return &testBus{} }

func (b *testBus) Read(addr uint16) uint8 {
	b.cycles++
	if addr == 0xFFFF {
		return b.ie
	}
	if addr == 0xFF0F {
		return b.iflag
	}
	return b.mem[addr]
}

func (b *testBus) Write(addr uint16, v uint8) {
	b.cycles++
	if addr == 0xFFFF {
		b.ie = v
		return
	}
	if addr == 0xFF0F {
		b.iflag = v
		return
	}
	b.mem[addr] = v
}

func (b *testBus) TickIdle() { b.cycles++ }

func (b *testBus) PendingInterrupts() uint8 { return b.ie & b.iflag & 0x1F }

func (b *testBus) ClearInterrupt(mask uint8) { b.iflag &^= mask }

func (b *testBus) TrySwitchSpeed() bool { return false }

func (b *testBus) requestInterrupt(mask uint8) { b.iflag |= mask }

func newCPUAt(pc uint16) (*CPU, *testBus) {
	bus := newTestBus()
	c := New(bus)
	c.pc = pc
	return c, bus
}

func TestReset(t *testing.T) {
	c, _ := newCPUAt(0)
	c.Reset(false)

	assert.Equal(t, uint8(0x01), c.a)
	assert.Equal(t, uint8(0xB0), c.f)
	assert.Equal(t, uint16(0x0013), c.getBC())
	assert.Equal(t, uint16(0x00D8), c.getDE())
	assert.Equal(t, uint16(0x014D), c.getHL())
	assert.Equal(t, uint16(0xFFFE), c.sp)
	assert.Equal(t, uint16(0x0100), c.pc)
	assert.False(t, c.ime)
}

func TestSetFFormCeLowNibbleAlwaysZero(t *testing.T) {
	c, _ := newCPUAt(0)
	c.setF(0xFF)
	assert.Equal(t, uint8(0xF0), c.f, "F register low nibble must always read zero")
}

func TestLoadRegisterToRegister(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x41 // LD B,C
	c.c = 0x42

	cycles := c.Step()

	assert.Equal(t, uint8(0x42), c.b)
	assert.Equal(t, 1, cycles)
}

func TestLoadFromHLIndirectCostsTwoMCycles(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x46 // LD B,(HL)
	c.setHL(0xC010)
	bus.mem[0xC010] = 0x99

	cycles := c.Step()

	assert.Equal(t, uint8(0x99), c.b)
	assert.Equal(t, 2, cycles)
}

func TestLoadImmediate16(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x21 // LD HL,nn
	bus.mem[0xC001] = 0x34
	bus.mem[0xC002] = 0x12

	cycles := c.Step()

	assert.Equal(t, uint16(0x1234), c.getHL())
	assert.Equal(t, 3, cycles)
}

func TestIncDecRegisterFlags(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x3C // INC A
	c.a = 0xFF

	c.Step()

	assert.Equal(t, uint8(0x00), c.a)
	assert.True(t, c.isSetFlag(zeroFlag))
	assert.True(t, c.isSetFlag(halfCarryFlag))
	assert.False(t, c.isSetFlag(subFlag))
}

func TestIncHLIndirectReadsAndWritesThroughBus(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x34 // INC (HL)
	c.setHL(0xC010)
	bus.mem[0xC010] = 0x0F

	cycles := c.Step()

	assert.Equal(t, uint8(0x10), bus.mem[0xC010])
	assert.Equal(t, 3, cycles)
}

func TestAddAdcSubSbcAndCpFlags(t *testing.T) {
	c, _ := newCPUAt(0xC000)
	c.a = 0x0F
	c.add(0x01, false)
	assert.Equal(t, uint8(0x10), c.a)
	assert.True(t, c.isSetFlag(halfCarryFlag))

	c.a = 0xFF
	c.setFlag(carryFlag)
	c.add(0x00, true)
	assert.Equal(t, uint8(0x00), c.a)
	assert.True(t, c.isSetFlag(zeroFlag))
	assert.True(t, c.isSetFlag(carryFlag))

	c.a = 0x10
	c.sub(0x01, false)
	assert.Equal(t, uint8(0x0F), c.a)
	assert.True(t, c.isSetFlag(halfCarryFlag))
	assert.True(t, c.isSetFlag(subFlag))

	c.a = 0x05
	c.cp(0x05)
	assert.True(t, c.isSetFlag(zeroFlag))
	assert.Equal(t, uint8(0x05), c.a, "CP must not modify A")
}

func TestDAAAfterBCDAddition(t *testing.T) {
	c, _ := newCPUAt(0xC000)
	c.a = 0x45
	c.add(0x38, false) // decimal 45 + 38 = 83, binary result 0x7D
	c.daa()
	assert.Equal(t, uint8(0x83), c.a)
	assert.False(t, c.isSetFlag(carryFlag))
}

func TestCBBitResSet(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0xCB
	bus.mem[0xC001] = 0x7C // BIT 7,H
	c.h = 0x00

	c.Step()
	assert.True(t, c.isSetFlag(zeroFlag))

	c, bus = newCPUAt(0xC000)
	bus.mem[0xC000] = 0xCB
	bus.mem[0xC001] = 0xFC // SET 7,H
	c.Step()
	assert.Equal(t, uint8(0x80), c.h)

	c, bus = newCPUAt(0xC000)
	bus.mem[0xC000] = 0xCB
	bus.mem[0xC001] = 0xBC // RES 7,H
	c.h = 0xFF
	c.Step()
	assert.Equal(t, uint8(0x7F), c.h)
}

func TestCBOnHLIndirectCostsFourMCyclesForReadWriteForms(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0xCB
	bus.mem[0xC001] = 0x06 // RLC (HL)
	c.setHL(0xC010)
	bus.mem[0xC010] = 0x80

	cycles := c.Step()

	assert.Equal(t, uint8(0x01), bus.mem[0xC010])
	assert.True(t, c.isSetFlag(carryFlag))
	assert.Equal(t, 4, cycles)
}

func TestPushPopRoundTrip(t *testing.T) {
	c, _ := newCPUAt(0xC000)
	c.sp = 0xFFFE
	c.push(0xBEEF)
	assert.Equal(t, uint16(0xBEEF), c.pop())
	assert.Equal(t, uint16(0xFFFE), c.sp)
}

func TestCallAndRet(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	c.sp = 0xFFFE
	bus.mem[0xC000] = 0xCD // CALL nn
	bus.mem[0xC001] = 0x00
	bus.mem[0xC002] = 0xD0

	cycles := c.Step()
	require.Equal(t, uint16(0xD000), c.pc)
	assert.Equal(t, 6, cycles)

	bus.mem[0xD000] = 0xC9 // RET
	cycles = c.Step()
	assert.Equal(t, uint16(0xC003), c.pc)
	assert.Equal(t, 4, cycles)
}

func TestConditionalJumpNotTakenIsCheaper(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0xC2 // JP NZ,nn
	bus.mem[0xC001] = 0x00
	bus.mem[0xC002] = 0xD0
	c.setFlag(zeroFlag)

	cycles := c.Step()

	assert.Equal(t, uint16(0xC003), c.pc)
	assert.Equal(t, 3, cycles)
}

func TestHaltWakesOnPendingInterruptEvenWithIMEClear(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x76 // HALT
	c.ime = false

	c.Step()
	assert.True(t, c.halted)

	bus.ie = intTimer
	bus.requestInterrupt(intTimer)
	c.Step()
	assert.False(t, c.halted, "a pending, enabled interrupt wakes the CPU even with IME clear")
}

func TestHaltBugReexecutesNextByte(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	bus.mem[0xC000] = 0x76 // HALT, with IME clear and IE&IF already pending
	bus.mem[0xC001] = 0x3C // INC A
	c.ime = false
	bus.ie = intTimer
	bus.requestInterrupt(intTimer)

	c.Step() // executes HALT, triggers the halt bug instead of halting
	assert.False(t, c.halted)
	assert.Equal(t, uint16(0xC001), c.pc)

	c.Step() // INC A executes once...
	assert.Equal(t, uint8(0x01), c.a)
	assert.Equal(t, uint16(0xC001), c.pc, "PC must not advance: the halt bug re-fetches the same byte")

	c.Step() // ...and runs again from the same address
	assert.Equal(t, uint8(0x02), c.a)
	assert.Equal(t, uint16(0xC002), c.pc)
}

func TestEITakesEffectAfterTheFollowingInstruction(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	c.sp = 0xFFFE
	bus.mem[0xC000] = 0xFB // EI
	bus.mem[0xC001] = 0x00 // NOP
	bus.ie = intTimer
	bus.requestInterrupt(intTimer)

	c.Step() // EI itself: IME is not yet active, so the pending interrupt
	// cannot dispatch on this step even though EI already ran.
	assert.False(t, c.ime)
	assert.Equal(t, uint16(0xC001), c.pc)

	c.Step() // the NOP immediately after EI: IME turns on before it runs,
	// so the dispatch fires at the end of *this* step.
	assert.Equal(t, uint16(0x50), c.pc, "Timer vector reached once IME is live")
	assert.False(t, c.ime, "servicing the interrupt clears IME again")
}

func TestInterruptDispatchPriorityAndVector(t *testing.T) {
	c, bus := newCPUAt(0xC000)
	c.sp = 0xFFFE
	c.ime = true
	bus.mem[0xC000] = 0x00 // NOP, so Step has an instruction to execute first
	bus.ie = intVBlank | intTimer
	bus.requestInterrupt(intTimer)
	bus.requestInterrupt(intVBlank)

	c.Step()

	assert.Equal(t, uint16(0x40), c.pc, "VBlank outranks Timer")
	assert.False(t, c.ime)
	assert.Equal(t, uint8(intTimer), bus.iflag, "only the dispatched interrupt's flag is cleared")
}

func Test16BitRegisterPairAccessors(t *testing.T) {
	c, _ := newCPUAt(0)
	c.setBC(0x1234)
	assert.Equal(t, uint8(0x12), c.b)
	assert.Equal(t, uint8(0x34), c.c)
	assert.Equal(t, uint16(0x1234), c.getBC())

	c.setAF(0x56FF)
	assert.Equal(t, uint8(0x56), c.a)
	assert.Equal(t, uint8(0xF0), c.f, "AF low nibble is always masked to zero")
}

func TestStateRoundTrip(t *testing.T) {
	c, _ := newCPUAt(0)
	c.Reset(false)
	c.a = 0x42
	c.ime = true

	s := c.State()

	other, _ := newCPUAt(0)
	other.Restore(s)

	assert.Equal(t, c.State(), other.State())
}
