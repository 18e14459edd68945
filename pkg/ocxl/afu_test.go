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
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/libocxl-go/pkg/ocxl/fakeocxl"
)

func init() {
	_ = flag.Set("v", "4") //Enable debug output
}

const memcpyDevice = "IBM,MEMCPY3.0004:00:00.1.0"

var memcpyAFU = fakeocxl.AFUOptions{
	Name:              "IBM,MEMCPY3",
	PhysicalFunctions: []string{"0004:00:00.1"},
	Version:           "5:10",
	GlobalMMIOSize:    32 << 20,
	PerPASIDMMIOSize:  16 << 10,
	PASIDBase:         1234,
}

// newTestConfig generates a fake tree for afus and returns a Config using it.
func newTestConfig(t *testing.T, afus ...fakeocxl.AFUOptions) (*Config, *fakeocxl.Driver, fakeocxl.Tree) {
	t.Helper()

	opts := fakeocxl.GenOptions{Path: t.TempDir(), AFUs: afus}

	tree, err := fakeocxl.GenerateFiles(opts)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	drv := fakeocxl.NewDriver(opts)
	c := &Config{
		SysPath:     tree.SysPath,
		DevPath:     tree.DevPath,
		Driver:      drv,
		Messages:    MessageAll,
		AFUMessages: MessageAll,
	}
	c.Init()

	return c, drv, tree
}

func openMemcpy(t *testing.T, attach bool) (*AFU, *fakeocxl.Driver, fakeocxl.Tree) {
	t.Helper()

	c, drv, tree := newTestConfig(t, memcpyAFU)

	afu, err := c.Open(memcpyAFU.Name)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	t.Cleanup(func() { afu.Close() })

	if attach {
		if err := afu.Attach(); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
	}

	return afu, drv, tree
}

type getters struct {
	State            State
	Identifier       Identifier
	DevicePath       string
	SysfsPath        string
	VersionMajor     uint8
	VersionMinor     uint8
	PASID            uint32
	GlobalMMIOSize   uint64
	PerPASIDMMIOSize uint64
	IRQCount         int
}

func collectGetters(afu *AFU) getters {
	major, minor := afu.Version()

	return getters{
		State:            afu.State(),
		Identifier:       afu.Identifier(),
		DevicePath:       afu.DevicePath(),
		SysfsPath:        afu.SysfsPath(),
		VersionMajor:     major,
		VersionMinor:     minor,
		PASID:            afu.PASID(),
		GlobalMMIOSize:   afu.GlobalMMIOSize(),
		PerPASIDMMIOSize: afu.PerPASIDMMIOSize(),
		IRQCount:         afu.IRQCount(),
	}
}

func TestOpenGetters(t *testing.T) {
	afu, _, tree := openMemcpy(t, false)

	expected := getters{
		State:            StateOpened,
		Identifier:       Identifier{AFUName: "IBM,MEMCPY3", PCI: PCIAddress{Domain: 4, Function: 1}},
		DevicePath:       filepath.Join(tree.DevPath, memcpyDevice),
		SysfsPath:        filepath.Join(tree.SysPath, memcpyDevice),
		VersionMajor:     5,
		VersionMinor:     10,
		PASID:            InvalidPASID,
		GlobalMMIOSize:   32 << 20,
		PerPASIDMMIOSize: 16 << 10,
	}
	if diff := cmp.Diff(expected, collectGetters(afu)); diff != "" {
		t.Errorf("unexpected getters before attach (-want +got):\n%s", diff)
	}

	if err := afu.Attach(); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	expected.State = StateAttached
	expected.PASID = 1234
	if diff := cmp.Diff(expected, collectGetters(afu)); diff != "" {
		t.Errorf("unexpected getters after attach (-want +got):\n%s", diff)
	}

	if afu.EventFD() < 0 || afu.MMIOFD(GlobalMMIO) < 0 || afu.MMIOFD(PerPASIDMMIO) < 0 {
		t.Error("expected valid descriptors on an open context")
	}

	if afu.MMIOSize(GlobalMMIO) != 32<<20 || afu.MMIOSize(PerPASIDMMIO) != 16<<10 || afu.MMIOSize(MMIOType(7)) != 0 {
		t.Error("unexpected MMIO sizes")
	}
}

func TestClose(t *testing.T) {
	afu, drv, _ := openMemcpy(t, true)

	global, err := afu.MMIOMap(GlobalMMIO)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if _, err = afu.IRQAlloc(nil); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	ctx := drv.Contexts(memcpyDevice)[0]

	if err = afu.Close(); err != nil {
		t.Errorf("unexpected error on first close: %+v", err)
	}

	if err = afu.Close(); !errors.Is(err, ErrAlreadyDone) {
		t.Errorf("expected ErrAlreadyDone on second close, got %v", err)
	}

	expected := getters{PASID: InvalidPASID}
	if diff := cmp.Diff(expected, collectGetters(afu)); diff != "" {
		t.Errorf("unexpected getters after close (-want +got):\n%s", diff)
	}

	if afu.EventFD() != -1 || afu.MMIOFD(GlobalMMIO) != -1 {
		t.Error("expected descriptors to be released")
	}

	if drv.OpenDescriptors() != 0 {
		t.Error("expected the context descriptor to be closed")
	}

	if ctx.IRQs() != 0 {
		t.Error("expected interrupts to be freed before the context was closed")
	}

	if _, err = global.Read32(0, HostEndian); !errors.Is(err, ErrInvalidArgs) {
		t.Errorf("expected ErrInvalidArgs on a closed context, got %v", err)
	}

	if _, err = afu.MMIOMap(GlobalMMIO); !errors.Is(err, ErrNoContext) {
		t.Errorf("expected ErrNoContext, got %v", err)
	}

	if err = afu.Attach(); !errors.Is(err, ErrNoContext) {
		t.Errorf("expected ErrNoContext, got %v", err)
	}

	var nilAFU *AFU
	if err = nilAFU.Close(); !errors.Is(err, ErrAlreadyDone) {
		t.Errorf("expected ErrAlreadyDone for a nil context, got %v", err)
	}
}

func TestOpenRollback(t *testing.T) {
	tcases := []struct {
		name        string
		op          string
		err         error
		removeArea  bool
		expectedErr error
	}{
		{
			name:        "open failure",
			op:          fakeocxl.OpOpen,
			err:         unix.EIO,
			expectedErr: ErrNoDev,
		},
		{
			name:        "no more contexts",
			op:          fakeocxl.OpOpen,
			err:         unix.ENOSPC,
			expectedErr: ErrNoMoreContexts,
		},
		{
			name:        "metadata failure",
			op:          fakeocxl.OpMetadata,
			err:         unix.ENOTTY,
			expectedErr: ErrInternal,
		},
		{
			name:        "missing global MMIO area",
			removeArea:  true,
			expectedErr: ErrNoDev,
		},
	}
	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			c, drv, tree := newTestConfig(t, memcpyAFU)
			if tt.op != "" {
				drv.FailNext(tt.op, tt.err)
			}
			if tt.removeArea {
				if err := os.Remove(filepath.Join(tree.SysPath, memcpyDevice, "global_mmio_area")); err != nil {
					t.Fatalf("unexpected error: %+v", err)
				}
			}

			afu, err := c.Open(memcpyAFU.Name)
			if !errors.Is(err, tt.expectedErr) {
				t.Errorf("expected %v, got %+v", tt.expectedErr, err)
			}
			if afu != nil {
				t.Error("expected no context on failure")
			}
			if drv.OpenDescriptors() != 0 {
				t.Error("expected the context descriptor to be released")
			}
		})
	}
}

func TestAttach(t *testing.T) {
	t.Run("amr", func(t *testing.T) {
		afu, drv, _ := openMemcpy(t, false)

		if err := afu.SetPPC64AMR(0xf0); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if err := afu.Attach(); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		ctx := drv.Contexts(memcpyDevice)[0]
		if !ctx.Attached() || ctx.AMR() != 0xf0 {
			t.Errorf("expected attach with AMR 0xf0, got %v %#x", ctx.Attached(), ctx.AMR())
		}

		if err := afu.SetPPC64AMR(0); !errors.Is(err, ErrAlreadyDone) {
			t.Errorf("expected ErrAlreadyDone, got %v", err)
		}
		if err := afu.Attach(); !errors.Is(err, ErrAlreadyDone) {
			t.Errorf("expected ErrAlreadyDone, got %v", err)
		}
	})

	t.Run("kernel failure", func(t *testing.T) {
		afu, drv, _ := openMemcpy(t, false)

		drv.FailNext(fakeocxl.OpAttach, unix.EIO)
		if err := afu.Attach(); !errors.Is(err, ErrInternal) {
			t.Errorf("expected ErrInternal, got %v", err)
		}
		if afu.State() != StateOpened || afu.PASID() != InvalidPASID {
			t.Error("expected the context to stay opened")
		}
		if err := afu.Attach(); err != nil {
			t.Errorf("expected a retry to succeed, got %+v", err)
		}
	})
}

func TestAFUErrorHandler(t *testing.T) {
	afu, _, _ := openMemcpy(t, false)

	var got []error
	afu.SetErrorHandler(func(a *AFU, err error, message string) {
		if a != afu || message == "" {
			t.Errorf("unexpected handler arguments %p %q", a, message)
		}
		got = append(got, err)
	})

	if _, err := afu.MMIOMap(PerPASIDMMIO); !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext, got %v", err)
	}

	if len(got) != 1 || ErrorKind(got[0]) != ErrNoContext {
		t.Errorf("expected one ErrNoContext message, got %v", got)
	}

	afu.EnableMessages(MessageNone)
	_, _ = afu.MMIOMap(PerPASIDMMIO)

	if len(got) != 1 {
		t.Errorf("expected no message with errors disabled, got %v", got)
	}
}
