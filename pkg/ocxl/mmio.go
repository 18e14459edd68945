// Copyright 2026 Intel Corporation. All Rights Reserved.
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

package ocxl

import (
	"encoding/binary"
	"math"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MMIOType selects one of the two MMIO areas of an AFU.
type MMIOType int

const (
	// GlobalMMIO is shared by every context of the AFU.
	GlobalMMIO MMIOType = iota
	// PerPASIDMMIO is private to the attached context.
	PerPASIDMMIO
)

func (t MMIOType) String() string {
	switch t {
	case GlobalMMIO:
		return "global"
	case PerPASIDMMIO:
		return "per-PASID"
	default:
		return "unknown"
	}
}

// Endian is the byte order of an AFU register.
type Endian int

const (
	// BigEndian registers are swapped on little endian hosts.
	BigEndian Endian = iota
	// LittleEndian registers are swapped on big endian hosts.
	LittleEndian
	// HostEndian registers are never swapped.
	HostEndian
)

// DefaultMMIOProt is the protection used by MMIOMap.
const DefaultMMIOProt = unix.PROT_READ | unix.PROT_WRITE

// mmioWordSize is the widest access. Mapped sizes are multiples of it so
// that the last word of every width is reachable with natural alignment.
const mmioWordSize = 8

// initialCollectionSize is the first allocation of the growable MMIO, IRQ
// and epoll event collections.
const initialCollectionSize = 8

var hostEndian = func() Endian {
	if binary.NativeEndian.Uint16([]byte{0x12, 0x34}) == 0x1234 {
		return BigEndian
	}

	return LittleEndian
}()

// grow makes room for one more element, doubling the capacity when full.
func grow[T any](s []T) []T {
	if len(s) < cap(s) {
		return s
	}

	n := 2 * cap(s)
	if n < initialCollectionSize {
		n = initialCollectionSize
	}

	g := make([]T, len(s), n)
	copy(g, s)

	return g
}

type mmioArea struct {
	data       []byte
	kind       MMIOType
	generation uint32
}

// MMIO is a handle on a mapped MMIO area. Handles of unmapped areas stay
// safe to use, every access on them fails with ErrInvalidArgs.
type MMIO struct {
	afu        *AFU
	slot       int
	generation uint32
}

// MMIOMap maps a whole MMIO area read-write. Per-PASID areas can only be
// mapped by an attached context.
func (afu *AFU) MMIOMap(kind MMIOType) (MMIO, error) {
	return afu.MMIOMapAdvanced(kind, 0, DefaultMMIOProt, 0, 0)
}

// MMIOMapAdvanced maps size bytes of an MMIO area starting at offset with
// the given protection. A zero size maps up to the end of the area. Offset
// must be page aligned, size a multiple of 8 bytes and flags must be zero.
func (afu *AFU) MMIOMapAdvanced(kind MMIOType, size uint64, prot int, flags uint64, offset uint64) (MMIO, error) {
	if afu.state == StateClosed {
		return MMIO{}, afu.errorf(ErrNoContext, "attempted to map the %s MMIO area of a closed AFU context", kind)
	}

	if flags != 0 {
		return MMIO{}, afu.errorf(ErrInvalidArgs, "MMIO flags of %#x are not supported", flags)
	}

	var (
		fd     int
		length uint64
	)

	switch kind {
	case GlobalMMIO:
		if afu.globalMMIOSize == 0 {
			return MMIO{}, afu.errorf(ErrNoMem, "cannot map the global MMIO area as the AFU provides 0 bytes")
		}

		if afu.globalMMIOFd < 0 {
			return MMIO{}, afu.errorf(ErrNoDev, "the global MMIO descriptor is not open")
		}

		fd, length = afu.globalMMIOFd, afu.globalMMIOSize
	case PerPASIDMMIO:
		if afu.state != StateAttached {
			return MMIO{}, afu.errorf(ErrNoContext, "cannot map the per-PASID MMIO area before attaching the context")
		}

		fd, length = afu.fd, afu.perPASIDMMIOSize
	default:
		return MMIO{}, afu.errorf(ErrInvalidArgs, "unknown MMIO type %d", kind)
	}

	if offset > length {
		return MMIO{}, afu.errorf(ErrOutOfBounds, "offset %#x exceeds the %s MMIO size of %#x", offset, kind, length)
	}

	if size == 0 {
		size = length - offset
	}

	if size == 0 || size > length-offset || size > math.MaxInt {
		return MMIO{}, afu.errorf(ErrOutOfBounds, "offset %#x + size %#x exceeds the %s MMIO size of %#x", offset, size, kind, length)
	}

	if size%mmioWordSize != 0 {
		return MMIO{}, afu.errorf(ErrInvalidArgs, "size %#x is not a multiple of %d bytes", size, mmioWordSize)
	}

	if offset%uint64(afu.pageSize) != 0 {
		return MMIO{}, afu.errorf(ErrInvalidArgs, "offset %#x is not aligned to the page size %#x", offset, afu.pageSize)
	}

	data, err := afu.drv.Mmap(fd, int64(offset), int(size), prot)
	if err != nil {
		return MMIO{}, afu.errorf(ErrInternal, "could not map the %s MMIO area: %v", kind, err)
	}

	m := afu.registerArea(data, kind)
	afu.trace("mapped MMIO", "type", kind.String(), "offset", offset, "size", size, "slot", m.slot)

	return m, nil
}

func (afu *AFU) registerArea(data []byte, kind MMIOType) MMIO {
	for i := range afu.mmios {
		if afu.mmios[i].data == nil {
			afu.mmios[i].data = data
			afu.mmios[i].kind = kind

			return MMIO{afu: afu, slot: i, generation: afu.mmios[i].generation}
		}
	}

	afu.mmios = append(grow(afu.mmios), mmioArea{data: data, kind: kind})

	return MMIO{afu: afu, slot: len(afu.mmios) - 1}
}

func (afu *AFU) unmapArea(slot int) {
	area := &afu.mmios[slot]
	if area.data == nil {
		return
	}

	if err := afu.drv.Munmap(area.data); err != nil {
		_ = afu.errorf(ErrInternal, "could not unmap the %s MMIO area: %v", area.kind, err)
	}

	area.data = nil
	area.generation++
}

func (m MMIO) area() *mmioArea {
	if m.afu == nil || m.slot < 0 || m.slot >= len(m.afu.mmios) {
		return nil
	}

	area := &m.afu.mmios[m.slot]
	if area.data == nil || area.generation != m.generation {
		return nil
	}

	return area
}

// Unmap releases the mapping. Unmapping twice does nothing.
func (m MMIO) Unmap() {
	if m.area() == nil {
		return
	}

	m.afu.unmapArea(m.slot)
	m.afu.trace("unmapped MMIO", "slot", m.slot)
}

// Mapped reports whether the handle still refers to a live mapping.
func (m MMIO) Mapped() bool {
	return m.area() != nil
}

// Type returns the MMIO area the handle maps.
func (m MMIO) Type() MMIOType {
	if area := m.area(); area != nil {
		return area.kind
	}

	return GlobalMMIO
}

// Info returns the host address and size of the mapping.
func (m MMIO) Info() (uintptr, uint64, error) {
	area := m.area()
	if area == nil {
		return 0, 0, m.invalid()
	}

	return uintptr(unsafe.Pointer(&area.data[0])), uint64(len(area.data)), nil
}

func (m MMIO) invalid() error {
	if m.afu == nil {
		return errors.WithMessage(ErrInvalidArgs, "MMIO area is not mapped")
	}

	return m.afu.errorf(ErrInvalidArgs, "MMIO area %d is not mapped", m.slot)
}

// check validates an access of width bytes at offset.
func (m MMIO) check(offset uint64, width uint64) ([]byte, error) {
	area := m.area()
	if area == nil {
		return nil, m.invalid()
	}

	length := uint64(len(area.data))
	if length < width || offset > length-width {
		return nil, m.afu.errorf(ErrOutOfBounds, "offset %#x of a %d byte access exceeds the MMIO size of %#x", offset, width, length)
	}

	if offset%width != 0 {
		return nil, m.afu.errorf(ErrInvalidArgs, "offset %#x is not aligned for a %d byte access", offset, width)
	}

	return area.data, nil
}

func swap32(v uint32, endian Endian) uint32 {
	if endian == HostEndian || endian == hostEndian {
		return v
	}

	return bits.ReverseBytes32(v)
}

func swap64(v uint64, endian Endian) uint64 {
	if endian == HostEndian || endian == hostEndian {
		return v
	}

	return bits.ReverseBytes64(v)
}

func validEndian(endian Endian) bool {
	return endian == BigEndian || endian == LittleEndian || endian == HostEndian
}

// Read32 reads a 32 bit register in a single access.
func (m MMIO) Read32(offset uint64, endian Endian) (uint32, error) {
	data, err := m.check(offset, 4)
	if err != nil {
		return 0, err
	}

	if !validEndian(endian) {
		return 0, m.afu.errorf(ErrInvalidArgs, "unknown endianness %d", endian)
	}

	v := swap32(atomic.LoadUint32((*uint32)(unsafe.Pointer(&data[offset]))), endian)
	m.afu.trace("read32", "slot", m.slot, "offset", offset, "value", v)

	return v, nil
}

// Read64 reads a 64 bit register in a single access.
func (m MMIO) Read64(offset uint64, endian Endian) (uint64, error) {
	data, err := m.check(offset, 8)
	if err != nil {
		return 0, err
	}

	if !validEndian(endian) {
		return 0, m.afu.errorf(ErrInvalidArgs, "unknown endianness %d", endian)
	}

	v := swap64(atomic.LoadUint64((*uint64)(unsafe.Pointer(&data[offset]))), endian)
	m.afu.trace("read64", "slot", m.slot, "offset", offset, "value", v)

	return v, nil
}

// Write32 writes a 32 bit register in a single access.
func (m MMIO) Write32(offset uint64, endian Endian, value uint32) error {
	data, err := m.check(offset, 4)
	if err != nil {
		return err
	}

	if !validEndian(endian) {
		return m.afu.errorf(ErrInvalidArgs, "unknown endianness %d", endian)
	}

	m.afu.trace("write32", "slot", m.slot, "offset", offset, "value", value)
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&data[offset])), swap32(value, endian))

	return nil
}

// Write64 writes a 64 bit register in a single access.
func (m MMIO) Write64(offset uint64, endian Endian, value uint64) error {
	data, err := m.check(offset, 8)
	if err != nil {
		return err
	}

	if !validEndian(endian) {
		return m.afu.errorf(ErrInvalidArgs, "unknown endianness %d", endian)
	}

	m.afu.trace("write64", "slot", m.slot, "offset", offset, "value", value)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&data[offset])), swap64(value, endian))

	return nil
}

// MMIOFD returns the descriptor backing an MMIO area, or -1.
func (afu *AFU) MMIOFD(kind MMIOType) int {
	switch kind {
	case GlobalMMIO:
		return afu.globalMMIOFd
	case PerPASIDMMIO:
		return afu.fd
	default:
		return -1
	}
}

// MMIOSize returns the size of an MMIO area in bytes.
func (afu *AFU) MMIOSize(kind MMIOType) uint64 {
	switch kind {
	case GlobalMMIO:
		return afu.globalMMIOSize
	case PerPASIDMMIO:
		return afu.perPASIDMMIOSize
	default:
		return 0
	}
}
