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

// Package linux wraps the ocxl character device ABI of the Linux kernel.
package linux

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Driver is the set of kernel operations needed to drive an AFU context.
// Errors carry the raw unix.Errno so callers can classify them.
type Driver interface {
	// Open opens an AFU device node and returns a fresh context descriptor.
	Open(path string) (int, error)
	// OpenGlobalMMIO opens the sysfs global MMIO area of an AFU.
	OpenGlobalMMIO(path string) (int, error)
	// Close releases any descriptor returned by this driver.
	Close(fd int) error
	// Attach binds the context to the calling process address space.
	Attach(fd int, amr uint64) error
	// Metadata queries the AFU version, PASID and MMIO sizes.
	Metadata(fd int) (OcxlIoctlMetadata, error)
	// IRQAlloc reserves an AFU interrupt and returns its mmap offset.
	IRQAlloc(fd int) (uint64, error)
	// IRQFree releases an AFU interrupt.
	IRQFree(fd int, offset uint64) error
	// IRQSetFD routes an AFU interrupt to an eventfd.
	IRQSetFD(fd int, offset uint64, eventfd int) error
	// Mmap maps length bytes of fd starting at offset as a shared mapping.
	Mmap(fd int, offset int64, length int, prot int) ([]byte, error)
	// Munmap releases a mapping returned by Mmap.
	Munmap(b []byte) error
	// Eventfd creates a non blocking eventfd.
	Eventfd() (int, error)
	// Read reads from a descriptor returned by Open or Eventfd.
	Read(fd int, p []byte) (int, error)
}

type kernelDriver struct{}

// NewDriver returns the Driver backed by the running kernel.
func NewDriver() Driver {
	return kernelDriver{}
}

func ioctl(fd int, req, arg uintptr) (uintptr, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return ret, errno
	}

	return ret, nil
}

func (kernelDriver) Open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
}

func (kernelDriver) OpenGlobalMMIO(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func (kernelDriver) Close(fd int) error {
	return unix.Close(fd)
}

func (kernelDriver) Attach(fd int, amr uint64) error {
	value := OcxlIoctlAttach{Amr: amr}
	_, err := ioctl(fd, OCXL_IOCTL_ATTACH, uintptr(unsafe.Pointer(&value)))

	return err
}

func (kernelDriver) Metadata(fd int) (OcxlIoctlMetadata, error) {
	var value OcxlIoctlMetadata
	_, err := ioctl(fd, OCXL_IOCTL_GET_METADATA, uintptr(unsafe.Pointer(&value)))

	return value, err
}

func (kernelDriver) IRQAlloc(fd int) (uint64, error) {
	var offset uint64
	_, err := ioctl(fd, OCXL_IOCTL_IRQ_ALLOC, uintptr(unsafe.Pointer(&offset)))

	return offset, err
}

func (kernelDriver) IRQFree(fd int, offset uint64) error {
	_, err := ioctl(fd, OCXL_IOCTL_IRQ_FREE, uintptr(unsafe.Pointer(&offset)))
	return err
}

func (kernelDriver) IRQSetFD(fd int, offset uint64, eventfd int) error {
	value := OcxlIoctlIrqFd{IrqOffset: offset, Eventfd: int32(eventfd)}
	_, err := ioctl(fd, OCXL_IOCTL_IRQ_SET_FD, uintptr(unsafe.Pointer(&value)))

	return err
}

func (kernelDriver) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, prot, unix.MAP_SHARED)
}

func (kernelDriver) Munmap(b []byte) error {
	return unix.Munmap(b)
}

func (kernelDriver) Eventfd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func (kernelDriver) Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}
