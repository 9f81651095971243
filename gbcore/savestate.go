package gbcore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/corecode/gbcore/bus"
	"github.com/corecode/gbcore/cpu"
	"github.com/corecode/gbcore/video"
)

// saveStateMagic and saveStateVersion head every blob this package
// produces, so a future format change can refuse to load an old blob
// instead of silently misinterpreting it.
const (
	saveStateMagic   uint32 = 0x47424353 // "GBCS"
	saveStateVersion uint32 = 1
)

// ErrBadSaveState is returned by LoadState when the blob's header does
// not match this package's magic number and version, or the payload
// fails to decode.
var ErrBadSaveState = errors.New("gbcore: invalid or incompatible save state")

// savedState is the full snapshot composed from every sub-system that
// owns mutable state. Cartridge ROM bytes are never included: LoadState
// is only valid against a Console that already has the matching
// cartridge loaded, same as every mainstream save-state format.
type savedState struct {
	CPU cpu.State
	Bus bus.State
	GPU video.State
}

// SaveState captures the console's entire execution state as an opaque
// blob. APU channel runtime state is not in the blob (see
// audio.RegisterState), so audio produced after LoadState can differ from
// the run that was saved.
func (c *Console) SaveState() ([]byte, error) {
	snap := savedState{
		CPU: c.cpu.State(),
		Bus: c.bus.State(),
		GPU: c.gpu.State(),
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(snap); err != nil {
		return nil, fmt.Errorf("gbcore: encode save state: %w", err)
	}

	var out bytes.Buffer
	header := make([]byte, 8)
	putUint32(header[0:4], saveStateMagic)
	putUint32(header[4:8], saveStateVersion)
	out.Write(header)
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

// LoadState restores a blob previously produced by SaveState on a
// console with the same cartridge already loaded.
func (c *Console) LoadState(data []byte) error {
	if len(data) < 8 {
		return ErrBadSaveState
	}
	if getUint32(data[0:4]) != saveStateMagic || getUint32(data[4:8]) != saveStateVersion {
		return ErrBadSaveState
	}

	var snap savedState
	if err := gob.NewDecoder(bytes.NewReader(data[8:])).Decode(&snap); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSaveState, err)
	}

	c.cpu.Restore(snap.CPU)
	c.bus.Restore(snap.Bus)
	c.gpu.Restore(snap.GPU)
	return nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
