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
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxIRQs bounds the interrupts of one context.
const maxIRQs = math.MaxUint16

type irq struct {
	id        int
	offset    uint64
	allocated bool
	eventfd   int
	polled    bool
	page      []byte
	tag       interface{}
}

func (i *irq) handle() uint64 {
	if i.page == nil {
		return 0
	}

	return uint64(uintptr(unsafe.Pointer(&i.page[0])))
}

// IRQAlloc allocates an AFU interrupt and returns its id. Ids start at 0
// and grow by one for every allocation, they are never reused. The tag is
// reported back with every event of the interrupt.
func (afu *AFU) IRQAlloc(tag interface{}) (int, error) {
	if afu.state == StateClosed {
		return -1, afu.errorf(ErrNoContext, "attempted to allocate an IRQ on a closed AFU context")
	}

	if len(afu.irqs) >= maxIRQs {
		return -1, afu.errorf(ErrNoIRQ, "the context already owns %d IRQs", len(afu.irqs))
	}

	afu.irqs = grow(afu.irqs)

	i := irq{id: len(afu.irqs), eventfd: -1, tag: tag}
	if err := afu.irqAllocate(&i); err != nil {
		afu.irqDealloc(&i)
		return -1, err
	}

	afu.irqs = append(afu.irqs, i)
	afu.irqByFd[int32(i.eventfd)] = i.id

	afu.trace("allocated IRQ", "irq", i.id, "offset", i.offset, "handle", i.handle(), "eventfd", i.eventfd)

	return i.id, nil
}

func (afu *AFU) irqAllocate(i *irq) error {
	var err error

	if i.eventfd, err = afu.drv.Eventfd(); err != nil {
		i.eventfd = -1
		return afu.errorf(ErrInternal, "could not open eventfd: %v", err)
	}

	if i.offset, err = afu.drv.IRQAlloc(afu.fd); err != nil {
		if errors.Is(err, unix.ENOSPC) {
			return afu.errorf(ErrNoIRQ, "the kernel has no IRQ left for the context: %v", err)
		}

		return afu.errorf(ErrInternal, "could not allocate IRQ in kernel: %v", err)
	}
	i.allocated = true

	if err = afu.drv.IRQSetFD(afu.fd, i.offset, i.eventfd); err != nil {
		return afu.errorf(ErrInternal, "could not set event descriptor in kernel: %v", err)
	}

	if i.page, err = afu.drv.Mmap(afu.fd, int64(i.offset), afu.pageSize, unix.PROT_WRITE); err != nil {
		i.page = nil
		return afu.errorf(ErrInternal, "mmap for IRQ failed: %v", err)
	}

	if err = unix.EpollCtl(afu.epollFd, unix.EPOLL_CTL_ADD, i.eventfd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(i.eventfd)}); err != nil {
		return afu.errorf(ErrInternal, "could not add IRQ fd %d to epoll fd %d: %v", i.eventfd, afu.epollFd, err)
	}
	i.polled = true

	return nil
}

// irqDealloc releases whatever part of an interrupt has been acquired.
func (afu *AFU) irqDealloc(i *irq) {
	if i.polled {
		if err := unix.EpollCtl(afu.epollFd, unix.EPOLL_CTL_DEL, i.eventfd, nil); err != nil {
			_ = afu.errorf(ErrInternal, "could not remove IRQ fd %d from epoll: %v", i.eventfd, err)
		}
		i.polled = false
	}

	if i.page != nil {
		if err := afu.drv.Munmap(i.page); err != nil {
			_ = afu.errorf(ErrInternal, "could not unmap IRQ page: %v", err)
		}
		i.page = nil
	}

	if i.allocated {
		if err := afu.drv.IRQFree(afu.fd, i.offset); err != nil {
			_ = afu.errorf(ErrInternal, "could not free IRQ in kernel: %v", err)
		}
		i.allocated = false
	}

	if i.eventfd >= 0 {
		if err := afu.drv.Close(i.eventfd); err != nil {
			_ = afu.errorf(ErrInternal, "could not close eventfd %d: %v", i.eventfd, err)
		}
		i.eventfd = -1
	}
}

func (afu *AFU) lookupIRQ(id int) *irq {
	if id < 0 || id >= len(afu.irqs) {
		return nil
	}

	return &afu.irqs[id]
}

// IRQHandle returns the value the AFU must write to trigger the interrupt,
// or 0 for an unknown id.
func (afu *AFU) IRQHandle(id int) uint64 {
	if i := afu.lookupIRQ(id); i != nil {
		return i.handle()
	}

	return 0
}

// IRQFD returns the eventfd signalled by the interrupt, or -1 for an
// unknown id.
func (afu *AFU) IRQFD(id int) int {
	if i := afu.lookupIRQ(id); i != nil {
		return i.eventfd
	}

	return -1
}

// IRQTag returns the tag given to IRQAlloc, or nil for an unknown id.
func (afu *AFU) IRQTag(id int) interface{} {
	if i := afu.lookupIRQ(id); i != nil {
		return i.tag
	}

	return nil
}

// SetIRQTag replaces the tag reported with the events of an interrupt.
func (afu *AFU) SetIRQTag(id int, tag interface{}) error {
	i := afu.lookupIRQ(id)
	if i == nil {
		return afu.errorf(ErrInvalidArgs, "unknown IRQ %d", id)
	}

	i.tag = tag

	return nil
}

// IRQCount returns the number of interrupts allocated on the context.
func (afu *AFU) IRQCount() int {
	return len(afu.irqs)
}
