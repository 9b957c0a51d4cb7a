// Package sample defines the fixed-size record produced at every probe hit.
//
// Sample crosses the same boundary the teacher's eBPF Event struct crossed
// (a raw byte buffer read back by a consumer that does not share the
// producer's type definitions), so its field order and widths are part of
// the wire contract, not an implementation detail.
package sample

// MaxPMCCount bounds the number of inline PMU counter readings carried by a
// single Sample. An ActivatePmu request asking for more counters than this
// (general purpose plus fixed) is rejected before any counter is enabled.
const MaxPMCCount = 8

// Sample is one probe-hit record. Layout must stay byte-stable: readers of
// the sample file parse this shape directly, see internal/persist.
type Sample struct {
	Tsc        uint64
	CallSiteID uint32
	ThreadID   uint32
	PMCCount   uint32
	_          uint32 // padding to keep PMCs 8-byte aligned
	PMC        [MaxPMCCount]uint64
}

// Size is the encoded byte size of a Sample on disk.
const Size = 8 + 4 + 4 + 4 + 4 + MaxPMCCount*8
