// Package codec implements the little-endian, length-prefixed binary
// layout used by version 1 of the ceremony wire format. Integers are
// fixed width, byte strings and sequences carry a u64 length prefix, and
// optional values carry a one-byte tag.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/f3rmion/multisig/group"
)

// MaxLength bounds any length prefix accepted by a Reader, so a corrupt
// or hostile prefix cannot trigger a huge allocation.
const MaxLength = 1 << 20

var (
	ErrShortBuffer  = errors.New("codec: unexpected end of data")
	ErrTooLong      = errors.New("codec: length prefix too large")
	ErrTrailingData = errors.New("codec: trailing data")
	ErrBadTag       = errors.New("codec: invalid option tag")
)

// Writer accumulates an encoding.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoding written so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) PutU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) PutU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// PutLen writes a sequence length prefix.
func (w *Writer) PutLen(n int) {
	w.PutU64(uint64(n))
}

// PutBytes writes a length-prefixed byte string.
func (w *Writer) PutBytes(b []byte) {
	w.PutLen(len(b))
	w.buf = append(w.buf, b...)
}

// PutString writes a length-prefixed UTF-8 string.
func (w *Writer) PutString(s string) {
	w.PutBytes([]byte(s))
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

func (w *Writer) PutPoint(p group.Point) {
	w.PutBytes(p.Bytes())
}

func (w *Writer) PutScalar(s group.Scalar) {
	w.PutBytes(s.Bytes())
}

// SortedKeys returns the keys of m in ascending order, the order in which
// maps are encoded.
func SortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PutMap writes m as a length-prefixed sequence of (u32 key, value)
// pairs in ascending key order.
func PutMap[V any](w *Writer, m map[uint32]V, put func(*Writer, V)) {
	w.PutLen(len(m))
	for _, k := range SortedKeys(m) {
		w.PutU32(k)
		put(w, m[k])
	}
}

// Reader decodes an encoding. The first error is sticky: once set, every
// later read returns a zero value and Err reports the failure.
type Reader struct {
	buf []byte
	err error
}

// NewReader returns a Reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first decoding error.
func (r *Reader) Err() error {
	return r.err
}

// Fail records err unless an earlier error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Finish returns the first decoding error, or ErrTrailingData if bytes
// remain unread.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if len(r.buf) != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingData, len(r.buf))
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrShortBuffer
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Len reads a sequence length prefix.
func (r *Reader) Len() int {
	n := r.U64()
	if n > MaxLength {
		r.Fail(ErrTooLong)
		return 0
	}
	return int(n)
}

// Bytes reads a length-prefixed byte string. The result is a copy.
func (r *Reader) Bytes() []byte {
	n := r.Len()
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

func (r *Reader) Text() string {
	return string(r.Bytes())
}

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	}
	r.Fail(ErrBadTag)
	return false
}

// Point reads a point and decodes it in g.
func (r *Reader) Point(g group.Group) group.Point {
	b := r.Bytes()
	if r.err != nil {
		return nil
	}
	p, err := g.NewPoint().SetBytes(b)
	if err != nil {
		r.Fail(fmt.Errorf("codec: invalid point: %w", err))
		return nil
	}
	return p
}

// Scalar reads a scalar and decodes it in g.
func (r *Reader) Scalar(g group.Group) group.Scalar {
	b := r.Bytes()
	if r.err != nil {
		return nil
	}
	s, err := g.NewScalar().SetBytes(b)
	if err != nil {
		r.Fail(fmt.Errorf("codec: invalid scalar: %w", err))
		return nil
	}
	return s
}

// ReadMap reads a map written by PutMap. Duplicate or unordered keys are
// rejected so that every map has exactly one encoding.
func ReadMap[V any](r *Reader, get func(*Reader) V) map[uint32]V {
	n := r.Len()
	m := make(map[uint32]V, n)
	var prev uint32
	for i := 0; i < n && r.err == nil; i++ {
		k := r.U32()
		if i > 0 && k <= prev {
			r.Fail(errors.New("codec: map keys not strictly ascending"))
			return nil
		}
		prev = k
		m[k] = get(r)
	}
	if r.err != nil {
		return nil
	}
	return m
}
