// Copyright 2026 The Kernsim Authors.
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

// Package bitmap provides a fixed-size bitmap used to track page frames.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of bits. Bits past Size never read as zero, so
// searches never return an index outside the bitmap.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of usable bits.
	size uint32

	// bitBlock holds the bits. The type of bitBlock is uint64 which means
	// each number in bitBlock contains 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	b := Bitmap{size: size}
	b.bitBlock = make([]uint64, (uint64(size)+63)/64)
	if tail := size % 64; tail != 0 {
		// Pad the last block so the unusable bits look set.
		b.bitBlock[len(b.bitBlock)-1] = ^uint64(0) << tail
	}
	return b
}

// Size returns the number of usable bits.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint32 {
	return b.numOnes
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// IsFull returns true if every usable bit is set.
func (b *Bitmap) IsFull() bool {
	return b.numOnes == b.size
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	if i >= b.size {
		panic(fmt.Sprintf("bitmap index %d out of range [0, %d)", i, b.size))
	}
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Set sets bit i. It returns false if the bit was already set.
func (b *Bitmap) Set(i uint32) bool {
	if b.IsSet(i) {
		return false
	}
	b.bitBlock[i/64] |= uint64(1) << (i % 64)
	b.numOnes++
	return true
}

// Clear clears bit i. It returns false if the bit was already clear.
func (b *Bitmap) Clear(i uint32) bool {
	if !b.IsSet(i) {
		return false
	}
	b.bitBlock[i/64] &^= uint64(1) << (i % 64)
	b.numOnes--
	return true
}

// SetRange sets bits [begin, end).
func (b *Bitmap) SetRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Set(i)
	}
}

// FirstZero returns the first unset bit from the range [start, size).
func (b *Bitmap) FirstZero(start uint32) (uint32, bool) {
	if start >= b.size {
		return 0, false
	}
	i, nbit := int(start/64), start%64
	n := len(b.bitBlock)
	w := b.bitBlock[i] | ((1 << nbit) - 1)
	for {
		if w != ^uint64(0) {
			r := bits.TrailingZeros64(^w)
			return uint32(r + i*64), true
		}
		i++
		if i == n {
			break
		}
		w = b.bitBlock[i]
	}
	return 0, false
}

// FirstOne returns the first set bit from the range [start, size).
func (b *Bitmap) FirstOne(start uint32) (uint32, bool) {
	for start < b.size {
		i, nbit := int(start/64), start%64
		w := b.bitBlock[i] & (^uint64(0) << nbit)
		if w != 0 {
			r := uint32(bits.TrailingZeros64(w) + i*64)
			if r >= b.size {
				return 0, false
			}
			return r, true
		}
		start = uint32(i+1) * 64
	}
	return 0, false
}

// FirstZeroRun returns the first index i >= start such that bits
// [i, i+n) are all clear. Runs never wrap past the end of the bitmap.
func (b *Bitmap) FirstZeroRun(start, n uint32) (uint32, bool) {
	if n == 0 {
		return 0, false
	}
	for {
		first, ok := b.FirstZero(start)
		if !ok || uint64(first)+uint64(n) > uint64(b.size) {
			return 0, false
		}
		next, ok := b.FirstOne(first)
		if !ok || next-first >= n {
			return first, true
		}
		start = next
	}
}

// ToSlice returns the indices of all set bits in ascending order.
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.numOnes)
	for i, ok := b.FirstOne(0); ok; i, ok = b.FirstOne(i + 1) {
		out = append(out, i)
		if i+1 >= b.size {
			break
		}
	}
	return out
}
