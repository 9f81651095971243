package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corecode/gbcore/addr"
)

func TestTimer_DIVResetFallingEdgeIncrementsTIMA(t *testing.T) {
	tests := []struct {
		name          string
		tac           byte
		systemCounter uint16
		wantIncrement bool
	}{
		{"bit-3 selected, bit high", 0x05, 0x00F8, true},
		{"bit-3 selected, bit already low", 0x05, 0x0000, false},
		{"timer disabled, bit high but gated off", 0x01, 0x00F8, false},
		{"bit-7 selected, bit high", 0x07, 0x0080, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := &Timer{}
			tm.Write(addr.TAC, tt.tac)
			tm.systemCounter = tt.systemCounter

			tm.Write(addr.DIV, 0x00)

			want := byte(0)
			if tt.wantIncrement {
				want = 1
			}
			assert.Equal(t, want, tm.tima)
			assert.Equal(t, uint16(0), tm.systemCounter)
			assert.Equal(t, byte(0), tm.div)
		})
	}
}

func TestTimer_TACWriteFallingEdgeIncrementsTIMA(t *testing.T) {
	tm := &Timer{}
	tm.Write(addr.TAC, 0x06) // enabled, bit 5 selected
	tm.systemCounter = 0x0020 // bit 5 set

	// Switching to bit-3 select, which reads low at this counter value,
	// presents a falling edge under the new configuration.
	tm.Write(addr.TAC, 0x05)

	assert.Equal(t, byte(1), tm.tima)
}

func TestTimer_TIMAOverflowDelay(t *testing.T) {
	tm := &Timer{}
	var fired int
	tm.TimerInterruptHandler = func() { fired++ }

	tm.Write(addr.TAC, 0x05) // enabled, bit 3 selected
	tm.Write(addr.TMA, 0x42)
	tm.tima = 0xFF
	tm.systemCounter = 0x0000 // bit 3 currently low
	tm.lastTimerBit = true    // was high, so the first tick falls

	// One M-cycle: the falling edge overflows TIMA, which holds 0x00.
	tm.Tick(4)
	assert.Equal(t, byte(0x00), tm.tima, "TIMA holds 0x00 for one M-cycle after overflow")
	assert.Equal(t, 0, fired, "interrupt is not requested yet")

	// The next M-cycle performs the delayed reload and interrupt request
	// together.
	tm.Tick(4)
	assert.Equal(t, byte(0x42), tm.tima, "TIMA reloads from TMA one M-cycle after overflow")
	assert.Equal(t, 1, fired, "interrupt fires the same M-cycle as the reload")
}

func TestTimer_TIMAWriteDuringOverflowCancelsReload(t *testing.T) {
	tm := &Timer{}
	var fired int
	tm.TimerInterruptHandler = func() { fired++ }

	tm.Write(addr.TAC, 0x05)
	tm.Write(addr.TMA, 0x42)
	tm.tima = 0xFF
	tm.systemCounter = 0x0000
	tm.lastTimerBit = true

	tm.Tick(4) // overflow begins, TIMA == 0x00, reload pending

	tm.Write(addr.TIMA, 0x10) // cancel the pending reload

	tm.Tick(4) // would have reloaded from TMA here, had the write not cancelled it
	assert.Equal(t, byte(0x10), tm.tima)
	assert.Equal(t, 0, fired, "a cancelled reload never requests the interrupt")
}
