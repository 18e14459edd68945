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

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/libocxl-go/pkg/ocxl/linux"
)

// EventType identifies the concrete type of an Event.
type EventType int

const (
	// EventIRQ is reported by IRQEvent.
	EventIRQ EventType = iota
	// EventTranslationFault is reported by TranslationFaultEvent.
	EventTranslationFault
)

// Event is an asynchronous notification returned by EventCheck.
type Event interface {
	Type() EventType
}

// IRQEvent reports that an AFU interrupt fired.
type IRQEvent struct {
	// IRQ is the id returned by IRQAlloc.
	IRQ int
	// Handle is the trigger address of the interrupt.
	Handle uint64
	// Tag is the tag given to IRQAlloc.
	Tag interface{}
	// Count is the number of triggers since the last report.
	Count uint64
}

// Type implements Event.
func (IRQEvent) Type() EventType { return EventIRQ }

// TranslationFaultEvent reports that the AFU accessed an address the
// kernel could not translate.
type TranslationFaultEvent struct {
	// Addr is the faulting effective address.
	Addr uint64
	// DSISR is the PowerPC fault status register, 0 elsewhere.
	DSISR uint64
	// Count is the number of faults since the last report.
	Count uint64
}

// Type implements Event.
func (TranslationFaultEvent) Type() EventType { return EventTranslationFault }

// maxEventCheck bounds the events returned by one EventCheck call.
const maxEventCheck = math.MaxUint16

type eventAction int

const (
	actionNone eventAction = iota
	actionSuccess
	actionIgnore
)

// readAFUEvent reads one record from the context descriptor.
func (afu *AFU) readAFUEvent(buf []byte) (Event, eventAction, bool, error) {
	n, err := afu.drv.Read(afu.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, actionNone, true, nil
		}

		return nil, actionNone, true, afu.errorf(ErrInternal, "read of event header from fd %d failed: %v", afu.fd, err)
	}

	if n < linux.EventHeaderSize {
		return nil, actionNone, true, afu.errorf(ErrInternal, "short read of event header from fd %d", afu.fd)
	}

	typ := binary.NativeEndian.Uint16(buf[0:])
	flags := binary.NativeEndian.Uint16(buf[2:])
	last := flags&linux.OcxlEventFlagLast != 0

	if typ != linux.OcxlEventTranslationFault {
		afu.trace("unknown event received from kernel", "type", typ)
		return nil, actionIgnore, last, nil
	}

	if n != linux.EventMaxSize {
		return nil, actionNone, true, afu.errorf(ErrInternal, "incorrectly sized translation fault record, expected %d, got %d", linux.EventMaxSize, n)
	}

	body := buf[linux.EventHeaderSize:]
	ev := TranslationFaultEvent{
		Addr:  binary.NativeEndian.Uint64(body[0:]),
		DSISR: binary.NativeEndian.Uint64(body[8:]),
		Count: binary.NativeEndian.Uint64(body[16:]),
	}

	afu.trace("translation fault", "addr", ev.Addr, "dsisr", ev.DSISR, "count", ev.Count)

	return ev, actionSuccess, last, nil
}

// EventCheck waits up to timeout milliseconds for events and returns at
// most max of them. A negative timeout waits forever, zero polls. Events
// beyond max stay queued for the next call, max is capped at 65535. An
// interrupted wait returns no events and no error.
//
// On failure the events gathered before the failure are returned along
// with the error.
func (afu *AFU) EventCheck(timeout int, max int) ([]Event, error) {
	if afu.state == StateClosed {
		return nil, afu.errorf(ErrNoContext, "attempted to check events of a closed AFU context")
	}

	if max <= 0 {
		return nil, afu.errorf(ErrInvalidArgs, "event count must be positive, got %d", max)
	}

	if max > maxEventCheck {
		max = maxEventCheck
	}

	afu.trace("waiting for AFU events", "timeoutMs", timeout)

	if len(afu.epollEvents) < max {
		afu.epollEvents = make([]unix.EpollEvent, max)
	}

	count, err := unix.EpollWait(afu.epollFd, afu.epollEvents[:max], timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}

		return nil, afu.errorf(ErrInternal, "epoll_wait failed waiting for AFU events: %v", err)
	}

	events := make([]Event, 0, count)
	buf := make([]byte, linux.EventMaxSize)

	for _, ready := range afu.epollEvents[:count] {
		if len(events) >= max {
			break
		}

		if int(ready.Fd) == afu.fd {
			for len(events) < max {
				ev, action, last, err := afu.readAFUEvent(buf)
				if err != nil {
					return events, err
				}

				if action == actionSuccess {
					events = append(events, ev)
				}

				if last || action == actionNone {
					break
				}
			}

			continue
		}

		id, ok := afu.irqByFd[ready.Fd]
		if !ok {
			continue
		}

		i := &afu.irqs[id]

		var counter [8]byte
		n, err := afu.drv.Read(i.eventfd, counter[:])
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				_ = afu.errorf(ErrInternal, "read of eventfd %d IRQ %d failed: %v", i.eventfd, i.id, err)
			}

			continue
		}

		if n != len(counter) {
			_ = afu.errorf(ErrInternal, "short read of eventfd %d IRQ %d", i.eventfd, i.id)
			continue
		}

		ev := IRQEvent{
			IRQ:    i.id,
			Handle: i.handle(),
			Tag:    i.tag,
			Count:  binary.NativeEndian.Uint64(counter[:]),
		}
		events = append(events, ev)

		afu.trace("IRQ received", "irq", ev.IRQ, "handle", ev.Handle, "count", ev.Count)
	}

	afu.trace("events reported", "count", len(events))

	return events, nil
}
