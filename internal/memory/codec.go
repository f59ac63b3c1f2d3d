package memory

import (
	"encoding/binary"
	"math"
)

// Reader decodes fixed-layout record fields from a snapshot of host memory.
// All multi-byte reads are little-endian. Reads past the end return zero.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Seek moves the cursor to an absolute record offset.
func (r *Reader) Seek(off int) *Reader {
	r.off = off
	return r
}

// U8 reads 1 unsigned byte.
func (r *Reader) U8() byte {
	if r.off >= len(r.data) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// U16 reads 2 bytes as little-endian uint16.
func (r *Reader) U16() uint16 {
	if r.off+2 > len(r.data) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

// I16 reads 2 bytes as little-endian int16.
func (r *Reader) I16() int16 {
	return int16(r.U16())
}

// U32 reads 4 bytes as little-endian uint32.
func (r *Reader) U32() uint32 {
	if r.off+4 > len(r.data) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// U64 reads 8 bytes as little-endian uint64.
func (r *Reader) U64() uint64 {
	if r.off+8 > len(r.data) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

// F32 reads an IEEE-754 float.
func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

// CString reads a NUL-terminated string stored in a fixed field of size n.
// The cursor always advances by n.
func (r *Reader) CString(n int) string {
	end := r.off + n
	if end > len(r.data) {
		end = len(r.data)
	}
	field := r.data[min(r.off, end):end]
	r.off += n
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

// Bytes reads n raw bytes.
func (r *Reader) Bytes(n int) []byte {
	if r.off+n > len(r.data) {
		remaining := r.data[min(r.off, len(r.data)):]
		r.off = len(r.data)
		return append([]byte(nil), remaining...)
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Writer patches fixed-layout record fields into a buffer that is later
// written back to host memory. Writes past the end are dropped.
type Writer struct {
	buf []byte
	off int
}

func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Seek moves the cursor to an absolute record offset.
func (w *Writer) Seek(off int) *Writer {
	w.off = off
	return w
}

// U8 writes 1 byte.
func (w *Writer) U8(v byte) {
	if w.off < len(w.buf) {
		w.buf[w.off] = v
	}
	w.off++
}

// U16 writes 2 bytes little-endian.
func (w *Writer) U16(v uint16) {
	if w.off+2 <= len(w.buf) {
		binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	}
	w.off += 2
}

// I16 writes 2 bytes little-endian.
func (w *Writer) I16(v int16) {
	w.U16(uint16(v))
}

// U32 writes 4 bytes little-endian.
func (w *Writer) U32(v uint32) {
	if w.off+4 <= len(w.buf) {
		binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	}
	w.off += 4
}

// U64 writes 8 bytes little-endian.
func (w *Writer) U64(v uint64) {
	if w.off+8 <= len(w.buf) {
		binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	}
	w.off += 8
}

// F32 writes an IEEE-754 float.
func (w *Writer) F32(v float32) {
	w.U32(math.Float32bits(v))
}

// CString writes s into a fixed field of size n, NUL-terminated and
// zero-padded. s is cut so the terminator always fits.
func (w *Writer) CString(s string, n int) {
	if n <= 0 {
		return
	}
	field := make([]byte, n)
	copy(field[:n-1], s)
	w.Bytes(field)
}

// Bytes writes raw bytes.
func (w *Writer) Bytes(b []byte) {
	if w.off < len(w.buf) {
		copy(w.buf[w.off:], b)
	}
	w.off += len(b)
}

// Buffer returns the underlying buffer.
func (w *Writer) Buffer() []byte {
	return w.buf
}
