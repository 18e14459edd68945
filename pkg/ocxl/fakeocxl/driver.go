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

package fakeocxl

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/libocxl-go/pkg/ocxl/linux"
)

// irqBaseOffset is the mmap offset of the first interrupt page.
const irqBaseOffset = 1 << 32

// Operations that can be made to fail with FailNext.
const (
	OpOpen     = "open"
	OpAttach   = "attach"
	OpMetadata = "metadata"
	OpIRQAlloc = "irq-alloc"
	OpIRQSetFD = "irq-set-fd"
	OpMmap     = "mmap"
	OpEventfd  = "eventfd"
)

type fakeAFU struct {
	opts         AFUOptions
	major, minor uint8
	nextPASID    uint32
	contexts     []*Context
}

type fakeIRQ struct {
	eventfd int
	page    []byte
}

// Context is the simulated kernel side of an open AFU context.
type Context struct {
	drv    *Driver
	afu    *fakeAFU
	device string
	fd     int
	peer   int

	pasid    uint32
	attached bool
	amr      uint64
	nextIRQ  uint64
	irqs     map[uint64]*fakeIRQ
	perPASID []byte
}

// Driver implements linux.Driver for the AFUs of a GenOptions. Descriptors
// it does not own are handed to the wrapped driver.
type Driver struct {
	linux.Driver

	mu       sync.Mutex
	afus     map[string]*fakeAFU
	contexts map[int]*Context
	failures map[string]error
	pageSize int
}

// NewDriver simulates the AFUs of opts on top of the kernel driver.
func NewDriver(opts GenOptions) *Driver {
	d := &Driver{
		Driver:   linux.NewDriver(),
		afus:     map[string]*fakeAFU{},
		contexts: map[int]*Context{},
		failures: map[string]error{},
		pageSize: os.Getpagesize(),
	}

	for _, afu := range opts.AFUs {
		major, minor, _ := parseVersion(afu.Version)
		for _, pf := range afu.PhysicalFunctions {
			d.afus[afu.DeviceName(pf)] = &fakeAFU{
				opts:      afu,
				major:     major,
				minor:     minor,
				nextPASID: afu.PASIDBase,
			}
		}
	}

	return d
}

// FailNext makes the next call of op fail with err.
func (d *Driver) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failures[op] = err
}

func (d *Driver) failure(op string) error {
	err, ok := d.failures[op]
	if ok {
		delete(d.failures, op)
	}

	return err
}

// Contexts returns the open contexts of a device in opening order.
func (d *Driver) Contexts(device string) []*Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	afu, ok := d.afus[device]
	if !ok {
		return nil
	}

	return append([]*Context(nil), afu.contexts...)
}

// OpenDescriptors returns the number of context descriptors still open.
func (d *Driver) OpenDescriptors() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.contexts)
}

func (d *Driver) context(fd int) (*Context, error) {
	ctx, ok := d.contexts[fd]
	if !ok {
		return nil, unix.ENOTTY
	}

	return ctx, nil
}

// Open implements linux.Driver.
func (d *Driver) Open(path string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure(OpOpen); err != nil {
		return -1, err
	}

	device := filepath.Base(path)

	afu, ok := d.afus[device]
	if !ok {
		return -1, unix.ENODEV
	}

	if afu.opts.MaxContexts > 0 && len(afu.contexts) >= afu.opts.MaxContexts {
		return -1, unix.ENOSPC
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	ctx := &Context{
		drv:    d,
		afu:    afu,
		device: device,
		fd:     fds[0],
		peer:   fds[1],
		pasid:  afu.nextPASID,
		irqs:   map[uint64]*fakeIRQ{},
	}
	afu.nextPASID++
	afu.contexts = append(afu.contexts, ctx)
	d.contexts[ctx.fd] = ctx

	return ctx.fd, nil
}

// Close implements linux.Driver.
func (d *Driver) Close(fd int) error {
	d.mu.Lock()

	ctx, ok := d.contexts[fd]
	if !ok {
		d.mu.Unlock()
		return d.Driver.Close(fd)
	}

	delete(d.contexts, fd)

	for i, c := range ctx.afu.contexts {
		if c == ctx {
			ctx.afu.contexts = append(ctx.afu.contexts[:i], ctx.afu.contexts[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	if err := unix.Close(ctx.peer); err != nil {
		return err
	}

	return unix.Close(ctx.fd)
}

// Attach implements linux.Driver.
func (d *Driver) Attach(fd int, amr uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, err := d.context(fd)
	if err != nil {
		return err
	}

	if err := d.failure(OpAttach); err != nil {
		return err
	}

	if ctx.attached {
		return unix.EBUSY
	}

	ctx.attached = true
	ctx.amr = amr

	return nil
}

// Metadata implements linux.Driver.
func (d *Driver) Metadata(fd int) (linux.OcxlIoctlMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, err := d.context(fd)
	if err != nil {
		return linux.OcxlIoctlMetadata{}, err
	}

	if err := d.failure(OpMetadata); err != nil {
		return linux.OcxlIoctlMetadata{}, err
	}

	return linux.OcxlIoctlMetadata{
		Version:         0,
		AfuVersionMajor: ctx.afu.major,
		AfuVersionMinor: ctx.afu.minor,
		Pasid:           ctx.pasid,
		PpMmioSize:      ctx.afu.opts.PerPASIDMMIOSize,
		GlobalMmioSize:  ctx.afu.opts.GlobalMMIOSize,
	}, nil
}

// IRQAlloc implements linux.Driver.
func (d *Driver) IRQAlloc(fd int) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, err := d.context(fd)
	if err != nil {
		return 0, err
	}

	if err := d.failure(OpIRQAlloc); err != nil {
		return 0, err
	}

	if ctx.afu.opts.MaxIRQs > 0 && len(ctx.irqs) >= ctx.afu.opts.MaxIRQs {
		return 0, unix.ENOSPC
	}

	offset := irqBaseOffset + ctx.nextIRQ*uint64(d.pageSize)
	ctx.nextIRQ++
	ctx.irqs[offset] = &fakeIRQ{eventfd: -1}

	return offset, nil
}

// IRQFree implements linux.Driver.
func (d *Driver) IRQFree(fd int, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, err := d.context(fd)
	if err != nil {
		return err
	}

	if _, ok := ctx.irqs[offset]; !ok {
		return unix.EINVAL
	}

	delete(ctx.irqs, offset)

	return nil
}

// IRQSetFD implements linux.Driver.
func (d *Driver) IRQSetFD(fd int, offset uint64, eventfd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, err := d.context(fd)
	if err != nil {
		return err
	}

	if err := d.failure(OpIRQSetFD); err != nil {
		return err
	}

	irq, ok := ctx.irqs[offset]
	if !ok {
		return unix.EINVAL
	}

	irq.eventfd = eventfd

	return nil
}

// Mmap implements linux.Driver. The per-PASID area and interrupt pages
// are backed by anonymous shared memory.
func (d *Driver) Mmap(fd int, offset int64, length int, prot int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure(OpMmap); err != nil {
		return nil, err
	}

	ctx, ok := d.contexts[fd]
	if !ok {
		return d.Driver.Mmap(fd, offset, length, prot)
	}

	if offset < irqBaseOffset {
		if !ctx.attached {
			return nil, unix.ENODEV
		}

		if uint64(offset)+uint64(length) > ctx.afu.opts.PerPASIDMMIOSize {
			return nil, unix.EINVAL
		}

		b, err := unix.Mmap(-1, 0, length, prot, unix.MAP_SHARED|unix.MAP_ANON)
		if err != nil {
			return nil, err
		}
		ctx.perPASID = b

		return b, nil
	}

	irq, ok := ctx.irqs[uint64(offset)]
	if !ok || length != d.pageSize {
		return nil, unix.EINVAL
	}

	b, err := unix.Mmap(-1, 0, length, prot, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	irq.page = b

	return b, nil
}

// Eventfd implements linux.Driver.
func (d *Driver) Eventfd() (int, error) {
	d.mu.Lock()
	err := d.failure(OpEventfd)
	d.mu.Unlock()

	if err != nil {
		return -1, err
	}

	return d.Driver.Eventfd()
}

// Device returns the device node name of the context.
func (c *Context) Device() string {
	return c.device
}

// PASID returns the PASID assigned at open.
func (c *Context) PASID() uint32 {
	return c.pasid
}

// Attached reports whether Attach succeeded on the context.
func (c *Context) Attached() bool {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	return c.attached
}

// AMR returns the AMR value passed to Attach.
func (c *Context) AMR() uint64 {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	return c.amr
}

// IRQs returns the number of interrupts allocated in the kernel.
func (c *Context) IRQs() int {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	return len(c.irqs)
}

// PerPASIDMMIO returns the memory backing the last per-PASID mapping.
func (c *Context) PerPASIDMMIO() []byte {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	return c.perPASID
}

// InjectEvent queues a raw event record on the context descriptor.
func (c *Context) InjectEvent(typ uint16, last bool, body []byte) error {
	record := make([]byte, linux.EventHeaderSize+len(body))
	binary.NativeEndian.PutUint16(record[0:], typ)

	if last {
		binary.NativeEndian.PutUint16(record[2:], linux.OcxlEventFlagLast)
	}

	copy(record[linux.EventHeaderSize:], body)

	_, err := unix.Write(c.peer, record)

	return errors.Wrap(err, "event injection failed")
}

// InjectTranslationFault queues a translation fault record.
func (c *Context) InjectTranslationFault(addr, dsisr, count uint64, last bool) error {
	body := make([]byte, linux.EventFaultSize)
	binary.NativeEndian.PutUint64(body[0:], addr)
	binary.NativeEndian.PutUint64(body[8:], dsisr)
	binary.NativeEndian.PutUint64(body[16:], count)

	return c.InjectEvent(linux.OcxlEventTranslationFault, last, body)
}

// TriggerIRQ simulates the AFU writing to the interrupt page at handle.
func (c *Context) TriggerIRQ(handle uint64) error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()

	for offset, irq := range c.irqs {
		if irq.page == nil || uint64(uintptr(unsafe.Pointer(&irq.page[0]))) != handle {
			continue
		}

		if irq.eventfd < 0 {
			return errors.Errorf("interrupt at offset %#x has no eventfd", offset)
		}

		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)

		_, err := unix.Write(irq.eventfd, one[:])

		return errors.Wrap(err, "interrupt trigger failed")
	}

	return errors.Errorf("no interrupt with handle %#x", handle)
}
