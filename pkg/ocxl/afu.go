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
	"math"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/libocxl-go/pkg/ocxl/linux"
)

// InvalidPASID is reported by PASID until the context is attached.
const InvalidPASID = math.MaxUint32

const globalMMIOFile = "global_mmio_area"

// State is the lifecycle state of an AFU context.
type State int

const (
	// StateClosed contexts own no kernel resources.
	StateClosed State = iota
	// StateOpened contexts own a kernel context that is not yet attached.
	StateOpened
	// StateAttached contexts are bound to the process address space.
	StateAttached
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateAttached:
		return "attached"
	default:
		return "closed"
	}
}

// AFU is an open context on an accelerator functional unit.
//
// An AFU is not safe for concurrent mutation. MMIO accesses through
// distinct MMIO handles may run concurrently with each other, but IRQAlloc,
// EventCheck and Close must be serialized by the caller.
type AFU struct {
	drv linux.Driver

	identifier Identifier
	devicePath string
	sysfsPath  string

	state        State
	fd           int
	globalMMIOFd int
	epollFd      int
	epollEvents  []unix.EpollEvent

	versionMajor     uint8
	versionMinor     uint8
	pasid            uint32
	globalMMIOSize   uint64
	perPASIDMMIOSize uint64
	pageSize         int
	ppc64AMR         uint64

	mmios   []mmioArea
	irqs    []irq
	irqByFd map[int32]int

	messages     Messages
	errorHandler AFUErrorHandler
	logger       logr.Logger
}

func newAFU(c *Config) *AFU {
	c.Init()

	c.mu.Lock()
	defer c.mu.Unlock()

	return &AFU{
		drv:          c.Driver,
		fd:           -1,
		globalMMIOFd: -1,
		epollFd:      -1,
		pasid:        InvalidPASID,
		pageSize:     os.Getpagesize(),
		irqByFd:      map[int32]int{},
		messages:     c.AFUMessages,
		errorHandler: c.AFUErrorHandler,
		logger:       c.Logger,
	}
}

// open acquires the kernel context of the AFU at devicePath. On failure
// every partially acquired resource is released.
func (c *Config) open(id Identifier, devicePath, sysfsPath string) (*AFU, error) {
	afu := newAFU(c)
	afu.identifier = id
	afu.devicePath = devicePath
	afu.sysfsPath = sysfsPath

	if err := afu.open(); err != nil {
		afu.release()
		return nil, err
	}

	return afu, nil
}

func (afu *AFU) open() error {
	fd, err := afu.drv.Open(afu.devicePath)
	if err != nil {
		if errors.Is(err, unix.ENOSPC) {
			return afu.errorf(ErrNoMoreContexts, "could not open AFU device %q, the maximum number of contexts has been reached: %v", afu.devicePath, err)
		}

		return afu.errorf(ErrNoDev, "could not open AFU device %q: %v", afu.devicePath, err)
	}
	afu.fd = fd

	globalPath := filepath.Join(afu.sysfsPath, globalMMIOFile)
	if afu.globalMMIOFd, err = afu.drv.OpenGlobalMMIO(globalPath); err != nil {
		afu.globalMMIOFd = -1
		return afu.errorf(ErrNoDev, "could not open global MMIO descriptor %q: %v", globalPath, err)
	}

	if afu.epollFd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		afu.epollFd = -1
		return afu.errorf(ErrInternal, "could not create epoll descriptor: %v", err)
	}

	if err = unix.EpollCtl(afu.epollFd, unix.EPOLL_CTL_ADD, afu.fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(afu.fd)}); err != nil {
		return afu.errorf(ErrInternal, "could not add device fd %d to epoll fd %d: %v", afu.fd, afu.epollFd, err)
	}

	metadata, err := afu.drv.Metadata(afu.fd)
	if err != nil {
		return afu.errorf(ErrInternal, "OCXL_IOCTL_GET_METADATA failed, kernel API mismatch: %v", err)
	}

	afu.versionMajor = metadata.AfuVersionMajor
	afu.versionMinor = metadata.AfuVersionMinor
	afu.globalMMIOSize = metadata.GlobalMmioSize
	afu.perPASIDMMIOSize = metadata.PpMmioSize
	afu.pasid = metadata.Pasid
	afu.state = StateOpened

	afu.trace("opened",
		"device", afu.devicePath,
		"metadataVersion", metadata.Version,
		"version", [2]uint8{afu.versionMajor, afu.versionMinor},
		"pasid", metadata.Pasid,
		"globalMMIOSize", afu.globalMMIOSize,
		"perPASIDMMIOSize", afu.perPASIDMMIOSize)

	return nil
}

// SetPPC64AMR sets the Authority Mask Register value handed to the kernel
// on Attach. It must be called before Attach.
func (afu *AFU) SetPPC64AMR(amr uint64) error {
	switch afu.state {
	case StateClosed:
		return afu.errorf(ErrNoContext, "attempted to set the AMR of a closed AFU context")
	case StateAttached:
		return afu.errorf(ErrAlreadyDone, "the AMR cannot be changed once the context is attached")
	}

	afu.ppc64AMR = amr

	return nil
}

// Attach binds the context to the address space of the calling process.
func (afu *AFU) Attach() error {
	switch afu.state {
	case StateClosed:
		return afu.errorf(ErrNoContext, "attempted to attach a closed AFU context")
	case StateAttached:
		return afu.errorf(ErrAlreadyDone, "AFU context is already attached")
	}

	if err := afu.drv.Attach(afu.fd, afu.ppc64AMR); err != nil {
		return afu.errorf(ErrInternal, "OCXL_IOCTL_ATTACH failed: %v", err)
	}

	afu.state = StateAttached
	afu.trace("attached", "pasid", afu.pasid, "amr", afu.ppc64AMR)

	return nil
}

// Close releases every resource of the context. MMIO areas are unmapped
// and interrupts freed before the context descriptor is closed. Closing a
// closed context returns ErrAlreadyDone.
func (afu *AFU) Close() error {
	if afu == nil || afu.state == StateClosed {
		return ErrAlreadyDone
	}

	afu.release()

	return nil
}

func (afu *AFU) release() {
	for i := range afu.mmios {
		afu.unmapArea(i)
	}
	afu.mmios = nil

	if afu.globalMMIOFd >= 0 {
		if err := afu.drv.Close(afu.globalMMIOFd); err != nil {
			_ = afu.errorf(ErrInternal, "could not close global MMIO descriptor: %v", err)
		}
		afu.globalMMIOFd = -1
	}

	for i := range afu.irqs {
		afu.irqDealloc(&afu.irqs[i])
	}
	afu.irqs = nil
	afu.irqByFd = map[int32]int{}
	afu.epollEvents = nil

	if afu.epollFd >= 0 {
		if err := unix.Close(afu.epollFd); err != nil {
			_ = afu.errorf(ErrInternal, "could not close epoll descriptor: %v", err)
		}
		afu.epollFd = -1
	}

	if afu.fd >= 0 {
		if err := afu.drv.Close(afu.fd); err != nil {
			_ = afu.errorf(ErrInternal, "could not close AFU descriptor: %v", err)
		}
		afu.fd = -1
	}

	afu.trace("closed", "device", afu.devicePath)

	afu.identifier = Identifier{}
	afu.devicePath = ""
	afu.sysfsPath = ""
	afu.versionMajor = 0
	afu.versionMinor = 0
	afu.globalMMIOSize = 0
	afu.perPASIDMMIOSize = 0
	afu.pasid = InvalidPASID
	afu.ppc64AMR = 0
	afu.state = StateClosed
}

// State returns the lifecycle state of the context.
func (afu *AFU) State() State {
	return afu.state
}

// Identifier returns the identity of the AFU.
func (afu *AFU) Identifier() Identifier {
	return afu.identifier
}

// DevicePath returns the canonical device node of the AFU.
func (afu *AFU) DevicePath() string {
	return afu.devicePath
}

// SysfsPath returns the canonical sysfs directory of the AFU.
func (afu *AFU) SysfsPath() string {
	return afu.sysfsPath
}

// Version returns the AFU version reported by the kernel.
func (afu *AFU) Version() (major, minor uint8) {
	return afu.versionMajor, afu.versionMinor
}

// PASID returns the process address space ID of an attached context, or
// InvalidPASID.
func (afu *AFU) PASID() uint32 {
	if afu.state != StateAttached {
		return InvalidPASID
	}

	return afu.pasid
}

// GlobalMMIOSize returns the size of the global MMIO area in bytes.
func (afu *AFU) GlobalMMIOSize() uint64 {
	return afu.globalMMIOSize
}

// PerPASIDMMIOSize returns the size of the per-PASID MMIO area in bytes.
func (afu *AFU) PerPASIDMMIOSize() uint64 {
	return afu.perPASIDMMIOSize
}

// EventFD returns a descriptor that becomes readable when EventCheck has
// events to report, or -1 for a closed context. It is meant for
// integration with an external poll loop.
func (afu *AFU) EventFD() int {
	return afu.epollFd
}
