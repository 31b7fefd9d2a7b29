package module

import (
	"fmt"

	"moria.us/dolrel/bindata"
)

// A RelocType is a REL relocation type. These values match the PowerPC ELF
// relocation numbers, plus the Dolphin control entries.
type RelocType uint8

const (
	RelocNone           RelocType = 0
	RelocAddr32         RelocType = 1  // full 32-bit address
	RelocAddr24         RelocType = 2  // 24-bit branch target, low two bits kept
	RelocAddr16         RelocType = 3  // 16-bit address
	RelocAddr16Lo       RelocType = 4  // low half of address
	RelocAddr16Hi       RelocType = 5  // high half of address
	RelocAddr16Ha       RelocType = 6  // high half, adjusted for a signed low half
	RelocAddr14         RelocType = 7  // 14-bit conditional branch target
	RelocAddr14BrTaken  RelocType = 8  // as Addr14, branch predicted taken
	RelocAddr14BrNTaken RelocType = 9  // as Addr14, branch predicted not taken
	RelocRel24          RelocType = 10 // 24-bit PC relative branch
	RelocRel14          RelocType = 11 // 14-bit PC relative conditional branch
	RelocRel14BrTaken   RelocType = 12
	RelocRel14BrNTaken  RelocType = 13
	RelocNop            RelocType = 201 // advance the cursor only
	RelocSection        RelocType = 202 // switch the current section
	RelocEnd            RelocType = 203 // end of the stream
)

var relocNames = map[RelocType]string{
	RelocNone:           "R_PPC_NONE",
	RelocAddr32:         "R_PPC_ADDR32",
	RelocAddr24:         "R_PPC_ADDR24",
	RelocAddr16:         "R_PPC_ADDR16",
	RelocAddr16Lo:       "R_PPC_ADDR16_LO",
	RelocAddr16Hi:       "R_PPC_ADDR16_HI",
	RelocAddr16Ha:       "R_PPC_ADDR16_HA",
	RelocAddr14:         "R_PPC_ADDR14",
	RelocAddr14BrTaken:  "R_PPC_ADDR14_BRTAKEN",
	RelocAddr14BrNTaken: "R_PPC_ADDR14_BRNTAKEN",
	RelocRel24:          "R_PPC_REL24",
	RelocRel14:          "R_PPC_REL14",
	RelocRel14BrTaken:   "R_PPC_REL14_BRTAKEN",
	RelocRel14BrNTaken:  "R_PPC_REL14_BRNTAKEN",
	RelocNop:            "R_DOLPHIN_NOP",
	RelocSection:        "R_DOLPHIN_SECTION",
	RelocEnd:            "R_DOLPHIN_END",
}

func (t RelocType) String() string {
	if s, ok := relocNames[t]; ok {
		return s
	}
	return fmt.Sprintf("RelocType(%d)", uint8(t))
}

// Known returns true if t is a relocation type this package understands.
func (t RelocType) Known() bool {
	_, ok := relocNames[t]
	return ok
}

// Control returns true for entries that steer the stream instead of patching.
func (t RelocType) Control() bool {
	switch t {
	case RelocNone, RelocNop, RelocSection, RelocEnd:
		return true
	}
	return false
}

const (
	mask24 = 0x03fffffc
	mask14 = 0x0000fffc
)

// patchWidth returns the number of bytes a relocation of type t modifies.
func (t RelocType) patchWidth() (int, error) {
	switch t {
	case RelocAddr32, RelocAddr24, RelocAddr14, RelocAddr14BrTaken, RelocAddr14BrNTaken,
		RelocRel24, RelocRel14, RelocRel14BrTaken, RelocRel14BrNTaken:
		return 4, nil
	case RelocAddr16, RelocAddr16Lo, RelocAddr16Hi, RelocAddr16Ha:
		return 2, nil
	case RelocNone, RelocNop, RelocSection, RelocEnd:
		return 0, nil
	}
	return 0, fmt.Errorf("%w %d", ErrUnknownRelocation, uint8(t))
}

// apply patches the location at off in v so that it refers to target. where
// is the runtime address of the patched location, used by PC relative types.
// Masked types read the existing instruction and only replace their field.
func (t RelocType) apply(v bindata.View, off int64, target, where uint32) error {
	switch t {
	case RelocAddr32:
		return v.Put32(target, off)
	case RelocAddr24:
		return putMasked(v, off, target, mask24)
	case RelocAddr16, RelocAddr16Lo:
		return v.Put16(uint16(target), off)
	case RelocAddr16Hi:
		return v.Put16(uint16(target>>16), off)
	case RelocAddr16Ha:
		return v.Put16(uint16((target+0x8000)>>16), off)
	case RelocAddr14, RelocAddr14BrTaken, RelocAddr14BrNTaken:
		return putMasked(v, off, target, mask14)
	case RelocRel24:
		return putMasked(v, off, target-where, mask24)
	case RelocRel14, RelocRel14BrTaken, RelocRel14BrNTaken:
		return putMasked(v, off, target-where, mask14)
	case RelocNone, RelocNop, RelocSection, RelocEnd:
		return nil
	}
	return fmt.Errorf("%w %d", ErrUnknownRelocation, uint8(t))
}

func putMasked(v bindata.View, off int64, value, mask uint32) error {
	insn, err := v.U32(off)
	if err != nil {
		return err
	}
	return v.Put32(insn&^mask|value&mask, off)
}
