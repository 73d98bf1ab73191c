// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// encoder appends mus encoded values to a growing buffer.
type encoder struct {
	buf []byte
}

// tail extends the buffer by n bytes and returns the new region.
func (e *encoder) tail(n int) []byte {
	start := len(e.buf)
	if cap(e.buf)-start < n {
		grown := make([]byte, start, 2*cap(e.buf)+n)
		copy(grown, e.buf)
		e.buf = grown
	}
	e.buf = e.buf[:start+n]
	return e.buf[start:]
}

func (e *encoder) uint64(v uint64) {
	varint.Uint64.Marshal(v, e.tail(varint.Uint64.Size(v)))
}

func (e *encoder) int(v int) {
	varint.Int.Marshal(v, e.tail(varint.Int.Size(v)))
}

func (e *encoder) int64(v int64) {
	varint.Int64.Marshal(v, e.tail(varint.Int64.Size(v)))
}

func (e *encoder) float32(v float32) {
	bits := math.Float32bits(v)
	varint.Uint32.Marshal(bits, e.tail(varint.Uint32.Size(bits)))
}

func (e *encoder) bool(v bool) {
	ord.Bool.Marshal(v, e.tail(ord.Bool.Size(v)))
}

func (e *encoder) string(v string) {
	ord.String.Marshal(v, e.tail(ord.String.Size(v)))
}

func (e *encoder) bytes(v []byte) {
	e.int(len(v))
	copy(e.tail(len(v)), v)
}

// time stores UnixMicro; the zero time is stored as 0.
func (e *encoder) time(t time.Time) {
	if t.IsZero() {
		e.int64(0)
		return
	}
	e.int64(t.UnixMicro())
}

func (e *encoder) vector(v []float32) {
	e.int(len(v))
	for _, f := range v {
		e.float32(f)
	}
}

func (e *encoder) strings(v []string) {
	e.int(len(v))
	for _, s := range v {
		e.string(s)
	}
}

// decoder consumes mus encoded values. The first error sticks and all
// subsequent reads return zero values.
type decoder struct {
	bs  []byte
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs)
	if err != nil {
		d.fail(err)
		return 0
	}
	d.bs = d.bs[n:]
	return v
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.bs)
	if err != nil {
		d.fail(err)
		return 0
	}
	d.bs = d.bs[n:]
	return v
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs)
	if err != nil {
		d.fail(err)
		return 0
	}
	d.bs = d.bs[n:]
	return v
}

func (d *decoder) float32() float32 {
	if d.err != nil {
		return 0
	}
	bits, n, err := varint.Uint32.Unmarshal(d.bs)
	if err != nil {
		d.fail(err)
		return 0
	}
	d.bs = d.bs[n:]
	return math.Float32frombits(bits)
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs)
	if err != nil {
		d.fail(err)
		return false
	}
	d.bs = d.bs[n:]
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs)
	if err != nil {
		d.fail(err)
		return ""
	}
	d.bs = d.bs[n:]
	return v
}

// length reads a collection length and checks it against the remaining input.
// Every element takes at least one byte, so a length beyond that is corrupt.
func (d *decoder) length() int {
	n := d.int()
	if d.err != nil {
		return 0
	}
	if n < 0 || n > len(d.bs) {
		d.fail(ErrTruncatedData)
		return 0
	}
	return n
}

func (d *decoder) bytes() []byte {
	n := d.length()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.bs[:n])
	d.bs = d.bs[n:]
	return out
}

func (d *decoder) time() time.Time {
	v := d.int64()
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func (d *decoder) vector() []float32 {
	n := d.length()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = d.float32()
	}
	return out
}

func (d *decoder) strings() []string {
	n := d.length()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = d.string()
	}
	return out
}
