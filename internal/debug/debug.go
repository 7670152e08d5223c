// Package debug is a process-wide binary trace stream. Controller code writes
// short records tagged with a source ("gic dist init", "gic cascade", ...)
// and tools read them back with a Reader.
//
// Each record is:
//   - 2 bytes kind (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - source, then message
//
// Writers reserve space by atomically advancing the stream offset, so records
// from concurrent CPUs never interleave.
package debug

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const headerSize = 16

type Writer interface {
	io.WriterAt
	io.Closer
}

type writer struct {
	w Writer
}

var (
	fh     atomic.Pointer[writer]
	offset atomic.Uint64
)

func OpenFile(filename string) error {
	// Truncate to ensure successive runs don't leave stale trailing entries.
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// The error is a warning, not an error. It indicates possible data loss.
func Open(w Writer) error {
	offset.Store(0)
	if fh.Swap(&writer{w: w}) != nil {
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

func Close() error {
	fh := fh.Swap(nil)
	if fh != nil {
		if err := fh.w.Close(); err != nil {
			return err
		}
	}
	offset.Store(0)
	return nil
}

// Enabled reports whether a stream is open.
func Enabled() bool { return fh.Load() != nil }

type DebugKind uint16

const (
	DebugKindInvalid DebugKind = iota
	DebugKindBytes
	DebugKindString
)

func writeBytes(kind DebugKind, source string, data []byte) {
	fh := fh.Load()
	if fh == nil {
		return
	}

	rec := make([]byte, headerSize+len(source)+len(data))
	binary.LittleEndian.PutUint16(rec[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(rec[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(rec[8:16], uint64(time.Now().UnixNano()))
	copy(rec[headerSize:], source)
	copy(rec[headerSize+len(source):], data)

	off := offset.Add(uint64(len(rec))) - uint64(len(rec))
	if _, err := fh.w.WriteAt(rec, int64(off)); err != nil {
		panic(err)
	}
}

func WriteBytes(source string, data []byte) {
	writeBytes(DebugKindBytes, source, data)
}

func Write(source string, data string) {
	writeBytes(DebugKindString, source, []byte(data))
}

func Writef(source string, format string, args ...any) {
	if fh.Load() == nil {
		return
	}
	writeBytes(DebugKindString, source, fmt.Appendf(nil, format, args...))
}

// Memory is an in-memory Writer, mostly for tests.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// OpenMemory opens the stream on a fresh in-memory buffer.
func OpenMemory() (*Memory, error) {
	m := &Memory{}
	return m, Open(m)
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if end := int(off) + len(p); end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	return copy(m.data[off:], p), nil
}

func (m *Memory) Close() error { return nil }

// Bytes returns a copy of the stream contents.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// Entry is one decoded record.
type Entry struct {
	Time   time.Time
	Kind   DebugKind
	Source string
	Data   []byte
}

var ErrInvalidHeader = errors.New("debug: invalid header")

// Reader decodes a trace stream in write order.
type Reader struct {
	entries []Entry
}

// NewReader decodes every record from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	ret := &Reader{}
	var header [headerSize]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		kind := DebugKind(binary.LittleEndian.Uint16(header[0:2]))
		if kind == DebugKindInvalid {
			return nil, ErrInvalidHeader
		}
		sourceLength := binary.LittleEndian.Uint16(header[2:4])
		dataLength := binary.LittleEndian.Uint32(header[4:8])
		ts := int64(binary.LittleEndian.Uint64(header[8:16]))

		body := make([]byte, int(sourceLength)+int(dataLength))
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, fmt.Errorf("read record body: %w", err)
		}
		ret.entries = append(ret.entries, Entry{
			Time:   time.Unix(0, ts),
			Kind:   kind,
			Source: string(body[:sourceLength]),
			Data:   body[sourceLength:],
		})
	}
	return ret, nil
}

// NewReaderFromFile opens and decodes a trace file.
func NewReaderFromFile(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return NewReader(f)
}

// Each calls fn for every record in write order.
func (r *Reader) Each(fn func(e Entry) error) error {
	for _, e := range r.entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// EachSource calls fn for every record written by source.
func (r *Reader) EachSource(source string, fn func(e Entry) error) error {
	return r.Each(func(e Entry) error {
		if e.Source != source {
			return nil
		}
		return fn(e)
	})
}

// Sources lists distinct sources in order of first appearance.
func (r *Reader) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.entries {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	return out
}

// Len returns the number of records.
func (r *Reader) Len() int { return len(r.entries) }
