// Package persist writes the on-disk sample file format: a FileHeader and
// call-site table once per file, followed by a stream of SegmentHeader +
// Sample records.
//
// Layouts are fixed little-endian via encoding/binary rather than unsafe
// struct reinterpretation, since Go makes no on-disk layout guarantee for
// structs the way the original's packed C structs did.
package persist

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/msdhamodharan/xpedite/internal/probe"
	"github.com/msdhamodharan/xpedite/internal/sample"
)

// FileSignature and SegmentSignature are the exact magic numbers carried
// over from the original persistence format; readers rely on them to
// detect corruption or truncation.
const (
	FileSignature    uint64 = 0xC01DC01DC0FFEEEE
	FileVersion      uint64 = 0x0200
	SegmentSignature uint64 = 0x5CA1AB1E887A57EF
)

// Timeval mirrors the original's {sec, usec} wall-clock pair.
type Timeval struct {
	Sec  int64
	Usec int64
}

// NowTimeval converts t to the on-disk Timeval representation.
func NowTimeval(t time.Time) Timeval {
	return Timeval{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}

// FileHeader precedes every sample file exactly once, followed immediately
// by CallSiteCount CallSiteInfo records.
type FileHeader struct {
	Signature     uint64
	Version       uint64
	Time          Timeval
	TscHz         uint64
	PmcCount      uint32
	CallSiteCount uint32
}

// SegmentHeader precedes each drained batch of samples.
type SegmentHeader struct {
	Signature uint64
	Time      Timeval
	Size      uint32
	Seq       uint32
}

// callSiteWireLen is the wire size of one CallSiteInfo record, which varies
// with its strings: a uint32 id, uint32 line, and two length-prefixed
// strings.
func callSiteWireLen(c probe.CallSiteInfo) int {
	return 4 + 4 + 4 + len(c.File) + 4 + len(c.Name)
}

// PersistHeader writes one FileHeader followed by the call-site table.
// Called exactly once per sample file, before any sample bytes (invariant
// I4).
func PersistHeader(w io.Writer, callSites []probe.CallSiteInfo, tscHz uint64, pmcCount uint32, now time.Time) error {
	hdr := FileHeader{
		Signature:     FileSignature,
		Version:       FileVersion,
		Time:          NowTimeval(now),
		TscHz:         tscHz,
		PmcCount:      pmcCount,
		CallSiteCount: uint32(len(callSites)),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.Signature); err != nil {
		return errors.Wrap(err, "write file signature")
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.Version); err != nil {
		return errors.Wrap(err, "write file version")
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.Time); err != nil {
		return errors.Wrap(err, "write file time")
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.TscHz); err != nil {
		return errors.Wrap(err, "write tsc hz")
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.PmcCount); err != nil {
		return errors.Wrap(err, "write pmc count")
	}
	if err := binary.Write(w, binary.LittleEndian, hdr.CallSiteCount); err != nil {
		return errors.Wrap(err, "write call site count")
	}
	for _, c := range callSites {
		if err := writeCallSite(w, c); err != nil {
			return errors.Wrap(err, "write call site")
		}
	}
	return nil
}

func writeCallSite(w io.Writer, c probe.CallSiteInfo) error {
	if err := binary.Write(w, binary.LittleEndian, c.ID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, c.Line); err != nil {
		return err
	}
	if err := writeString(w, c.File); err != nil {
		return err
	}
	return writeString(w, c.Name)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// PersistSegment writes a SegmentHeader followed by len(samples) raw Sample
// records. Atomicity is per Write call; a short or failed write is not
// retried by this function (spec §7, IOError during sampling) -- callers
// log and continue.
func PersistSegment(w io.Writer, samples []sample.Sample, seq uint32, now time.Time) error {
	hdr := SegmentHeader{
		Signature: SegmentSignature,
		Time:      NowTimeval(now),
		Size:      uint32(len(samples)),
		Seq:       seq,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return errors.Wrap(err, "write segment header")
	}
	for i := range samples {
		if err := binary.Write(w, binary.LittleEndian, samples[i]); err != nil {
			return errors.Wrapf(err, "write sample %d of segment %d", i, seq)
		}
	}
	return nil
}
