package gic

import (
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/tinyrange/irqchip/internal/hv"
)

var ErrBadSnapshot = errors.New("gic: invalid snapshot")

// Snapshot is a suspend image: the Distributor state of each instance and
// the CPU Interface state of each CPU.
type Snapshot struct {
	Dists []DistSnapshot
	CPUs  []CPUSnapshot
}

type DistSnapshot struct {
	Instance int
	State    DistState
}

type CPUSnapshot struct {
	Instance int
	CPU      int
	State    CPUState
}

type sectionHeader struct {
	Kind     uint32
	Instance int
	CPU      int
}

// WriteSnapshot encodes snap as a magic/version header followed by one gob
// record per section.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], hv.SnapshotMagic)
	binary.LittleEndian.PutUint32(hdr[4:], hv.SnapshotVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}

	enc := gob.NewEncoder(w)
	for i := range snap.Dists {
		d := &snap.Dists[i]
		if err := enc.Encode(sectionHeader{Kind: hv.SnapshotSectionDist, Instance: d.Instance}); err != nil {
			return fmt.Errorf("encode dist section header: %w", err)
		}
		if err := enc.Encode(&d.State); err != nil {
			return fmt.Errorf("encode dist state of instance %d: %w", d.Instance, err)
		}
	}
	for i := range snap.CPUs {
		c := &snap.CPUs[i]
		if err := enc.Encode(sectionHeader{Kind: hv.SnapshotSectionCPU, Instance: c.Instance, CPU: c.CPU}); err != nil {
			return fmt.Errorf("encode cpu section header: %w", err)
		}
		if err := enc.Encode(&c.State); err != nil {
			return fmt.Errorf("encode cpu%d state of instance %d: %w", c.CPU, c.Instance, err)
		}
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: read header: %w", ErrBadSnapshot, err)
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:]); magic != hv.SnapshotMagic {
		return nil, fmt.Errorf("%w: magic %#x", ErrBadSnapshot, magic)
	}
	if version := binary.LittleEndian.Uint32(hdr[4:]); version != hv.SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadSnapshot, version, hv.SnapshotVersion)
	}

	snap := &Snapshot{}
	dec := gob.NewDecoder(r)
	for {
		var sh sectionHeader
		if err := dec.Decode(&sh); err != nil {
			if errors.Is(err, io.EOF) {
				return snap, nil
			}
			return nil, fmt.Errorf("%w: section header: %w", ErrBadSnapshot, err)
		}
		if sh.Instance < 0 || sh.Instance >= MaxInstances {
			return nil, fmt.Errorf("%w: %s section for instance %d", ErrBadSnapshot, hv.SnapshotSectionName(sh.Kind), sh.Instance)
		}
		switch sh.Kind {
		case hv.SnapshotSectionDist:
			d := DistSnapshot{Instance: sh.Instance}
			if err := dec.Decode(&d.State); err != nil {
				return nil, fmt.Errorf("%w: dist state: %w", ErrBadSnapshot, err)
			}
			if d.State.Lines < 0 || d.State.Lines > MaxLines {
				return nil, fmt.Errorf("%w: dist state with %d lines", ErrBadSnapshot, d.State.Lines)
			}
			snap.Dists = append(snap.Dists, d)
		case hv.SnapshotSectionCPU:
			c := CPUSnapshot{Instance: sh.Instance, CPU: sh.CPU}
			if err := dec.Decode(&c.State); err != nil {
				return nil, fmt.Errorf("%w: cpu state: %w", ErrBadSnapshot, err)
			}
			snap.CPUs = append(snap.CPUs, c)
		default:
			return nil, fmt.Errorf("%w: %s section kind %d", ErrBadSnapshot, hv.SnapshotSectionName(sh.Kind), sh.Kind)
		}
	}
}
