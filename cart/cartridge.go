// Package cart parses cartridge ROM headers and implements the memory bank
// controller (MBC) state machines that back the 0x0000-0x7FFF and
// 0xA000-0xBFFF address windows.
package cart

import (
	"errors"
	"fmt"
)

const (
	entryPointAddress      = 0x100
	titleAddress           = 0x134
	titleLength            = 16
	cgbFlagAddress         = 0x143
	cartridgeTypeAddress   = 0x147
	romSizeAddress         = 0x148
	ramSizeAddress         = 0x149
	destinationCodeAddress = 0x14A
	headerChecksumAddress  = 0x14D
	globalChecksumAddress  = 0x14E

	minHeaderSize = 0x150
	romBankSize   = 0x4000
	ramBankSize   = 0x2000
)

// Sentinel errors surfaced by Load; callers should check these with
// errors.Is rather than matching on message text.
var (
	ErrTooSmall        = errors.New("cart: rom smaller than header region")
	ErrUnsupportedMBC  = errors.New("cart: unsupported memory bank controller type")
	ErrHeaderChecksum  = errors.New("cart: header checksum mismatch")
)

// MBCKind identifies which bank-switching scheme a cartridge type byte maps
// to. Unlike the raw header byte, this collapses variants (e.g. "MBC3+RAM+
// BATTERY+RTC" and plain "MBC3") down to the state machine that serves them.
type MBCKind uint8

const (
	KindNone MBCKind = iota
	KindMBC1
	KindMBC1Multicart
	KindMBC2
	KindMBC3
	KindMBC5
)

// Cartridge is the parsed ROM header plus the raw image bytes. It carries
// no banking state itself — that lives in the MBC returned by NewMBC.
type Cartridge struct {
	Data []byte

	Title       string
	Kind        MBCKind
	IsColor     bool
	HasBattery  bool
	HasRTC      bool
	HasRumble   bool
	RAMBankSize int // total external RAM in bytes, 0 if none
	ROMBanks    int
}

// Load parses a ROM image's header and returns a Cartridge describing it.
// It never mutates or retains aliasing assumptions about the caller's
// slice beyond this call; the returned Cartridge owns a copy.
func Load(data []byte) (*Cartridge, error) {
	if len(data) < minHeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrTooSmall, len(data), minHeaderSize)
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	kind, battery, rtc, rumble, err := decodeCartridgeType(owned[cartridgeTypeAddress])
	if err != nil {
		return nil, err
	}

	c := &Cartridge{
		Data:        owned,
		Title:       cleanGameboyTitle(owned[titleAddress : titleAddress+titleLength]),
		Kind:        kind,
		IsColor:     owned[cgbFlagAddress]&0x80 != 0,
		HasBattery:  battery,
		HasRTC:      rtc,
		HasRumble:   rumble,
		RAMBankSize: decodeRAMSize(owned[ramSizeAddress]),
		ROMBanks:    decodeROMBanks(owned[romSizeAddress]),
	}

	return c, nil
}

// decodeCartridgeType maps the header's single cartridge-type byte (0x147)
// to a bank-controller kind plus its optional hardware extras. This table
// covers part of pandocs' published list (it has no ROM+RAM without MBC,
// MMM01, MBC6, MBC7 or 0xFC-0xFF entries), collapsed to what changes controller
// *behavior* (battery/RTC/rumble change persistence and register layout
// slightly, not the banking scheme itself).
func decodeCartridgeType(b byte) (kind MBCKind, battery, rtc, rumble bool, err error) {
	switch b {
	case 0x00:
		return KindNone, false, false, false, nil
	case 0x01:
		return KindMBC1, false, false, false, nil
	case 0x02:
		return KindMBC1, false, false, false, nil
	case 0x03:
		return KindMBC1, true, false, false, nil
	case 0x05:
		return KindMBC2, false, false, false, nil
	case 0x06:
		return KindMBC2, true, false, false, nil
	case 0x0F:
		return KindMBC3, true, true, false, nil
	case 0x10:
		return KindMBC3, true, true, false, nil
	case 0x11:
		return KindMBC3, false, false, false, nil
	case 0x12:
		return KindMBC3, false, false, false, nil
	case 0x13:
		return KindMBC3, true, false, false, nil
	case 0x19:
		return KindMBC5, false, false, false, nil
	case 0x1A:
		return KindMBC5, false, false, false, nil
	case 0x1B:
		return KindMBC5, true, false, false, nil
	case 0x1C:
		return KindMBC5, false, false, true, nil
	case 0x1D:
		return KindMBC5, false, false, true, nil
	case 0x1E:
		return KindMBC5, true, false, true, nil
	default:
		return KindNone, false, false, false, fmt.Errorf("%w: type byte 0x%02X", ErrUnsupportedMBC, b)
	}
}

func decodeROMBanks(b byte) int {
	if b > 0x08 {
		return 2 // unknown/extended size byte, assume the smallest banked layout
	}
	return 2 << b
}

func decodeRAMSize(b byte) int {
	switch b {
	case 0x00:
		return 0
	case 0x02:
		return 1 * ramBankSize
	case 0x03:
		return 4 * ramBankSize
	case 0x04:
		return 16 * ramBankSize
	case 0x05:
		return 8 * ramBankSize
	default:
		return 0
	}
}
