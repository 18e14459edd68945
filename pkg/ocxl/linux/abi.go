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

//go:build linux

package linux

import "unsafe"

const (
	iocNRBits   = 8
	iocTypeBits = 8

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(typ, nr, size uintptr) uintptr { return ioc(iocRead, typ, nr, size) }

func iow(typ, nr, size uintptr) uintptr { return ioc(iocWrite, typ, nr, size) }

// OcxlMagic is the ioctl type shared by all ocxl requests.
const OcxlMagic = 0xCA

// Event types delivered on the context descriptor.
const (
	// OcxlEventTranslationFault is raised when the AFU touched an address the
	// kernel could not translate.
	OcxlEventTranslationFault = 0
)

// OcxlEventFlagLast marks the final record currently queued by the kernel.
const OcxlEventFlagLast = 0x0001

// OcxlIoctlAttach is the argument of OCXL_IOCTL_ATTACH.
type OcxlIoctlAttach struct {
	Amr       uint64
	Reserved1 uint64
	Reserved2 uint64
	Reserved3 uint64
}

// OcxlIoctlMetadata is filled by OCXL_IOCTL_GET_METADATA.
type OcxlIoctlMetadata struct {
	Version         uint16
	AfuVersionMajor uint8
	AfuVersionMinor uint8
	Pasid           uint32
	PpMmioSize      uint64
	GlobalMmioSize  uint64
	Reserved        [13]uint64
}

// OcxlIoctlIrqFd is the argument of OCXL_IOCTL_IRQ_SET_FD.
type OcxlIoctlIrqFd struct {
	IrqOffset uint64
	Eventfd   int32
	Reserved  uint32
}

// OcxlKernelEventHeader precedes every record read from the context descriptor.
type OcxlKernelEventHeader struct {
	Type     uint16
	Flags    uint16
	Reserved uint32
}

// OcxlKernelEventXslFault is the body of an OcxlEventTranslationFault record.
type OcxlKernelEventXslFault struct {
	Addr     uint64
	Dsisr    uint64
	Count    uint64
	Reserved uint64
}

// Record sizes as laid out by the kernel.
const (
	EventHeaderSize = int(unsafe.Sizeof(OcxlKernelEventHeader{}))
	EventFaultSize  = int(unsafe.Sizeof(OcxlKernelEventXslFault{}))
	EventMaxSize    = EventHeaderSize + EventFaultSize
)

// ioctl request numbers.
var (
	OCXL_IOCTL_ATTACH       = iow(OcxlMagic, 0x10, unsafe.Sizeof(OcxlIoctlAttach{}))
	OCXL_IOCTL_IRQ_ALLOC    = ior(OcxlMagic, 0x11, unsafe.Sizeof(uint64(0)))
	OCXL_IOCTL_IRQ_FREE     = iow(OcxlMagic, 0x12, unsafe.Sizeof(uint64(0)))
	OCXL_IOCTL_IRQ_SET_FD   = iow(OcxlMagic, 0x13, unsafe.Sizeof(OcxlIoctlIrqFd{}))
	OCXL_IOCTL_GET_METADATA = ior(OcxlMagic, 0x14, unsafe.Sizeof(OcxlIoctlMetadata{}))
)
