package video

import "github.com/corecode/gbcore/addr"

// testMemory is a flat-array stand-in for the bus, used only by this
// package's unit tests: it gives the PPU a full 64KB address space with
// no banking or side effects, which is all these tests need.
type testMemory struct {
	data        [0x10000]byte
	interrupts  uint8
}

func newTestMemory() *testMemory {
	return &testMemory{}
}

func (m *testMemory) Read(address uint16) uint8 { return m.data[address] }

func (m *testMemory) Write(address uint16, value uint8) { m.data[address] = value }

func (m *testMemory) RequestInterrupt(interrupt addr.Interrupt) {
	m.interrupts |= uint8(interrupt)
}

func (m *testMemory) ReadBit(index uint8, address uint16) bool {
	return m.data[address]&(1<<index) != 0
}
