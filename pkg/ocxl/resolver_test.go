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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/intel/libocxl-go/pkg/ocxl/fakeocxl"
)

var twoFunctionAFU = fakeocxl.AFUOptions{
	Name:              "IBM,MEMCPY3",
	PhysicalFunctions: []string{"0004:00:00.1", "0005:00:00.1"},
	Version:           "5:10",
	GlobalMMIOSize:    1 << 20,
	PerPASIDMMIOSize:  16 << 10,
	MaxContexts:       1,
	PASIDBase:         100,
}

func TestResolutionFallback(t *testing.T) {
	c, drv, _ := newTestConfig(t, twoFunctionAFU)

	first, err := c.Open(twoFunctionAFU.Name)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	defer first.Close()

	second, err := c.Open(twoFunctionAFU.Name)
	if err != nil {
		t.Fatalf("expected the second function to be used, got %+v", err)
	}
	defer second.Close()

	if first.Identifier().PCI.String() != "0004:00:00.1" || second.Identifier().PCI.String() != "0005:00:00.1" {
		t.Errorf("unexpected candidates %s and %s", first.Identifier(), second.Identifier())
	}

	if _, err = c.Open(twoFunctionAFU.Name); !errors.Is(err, ErrNoMoreContexts) {
		t.Errorf("expected ErrNoMoreContexts once every function is busy, got %v", err)
	}

	if drv.OpenDescriptors() != 2 {
		t.Errorf("expected two open contexts, got %d", drv.OpenDescriptors())
	}

	first.Close()

	third, err := c.Open(twoFunctionAFU.Name)
	if err != nil {
		t.Fatalf("expected the released function to be reused, got %+v", err)
	}
	defer third.Close()

	if third.Identifier().PCI.String() != "0004:00:00.1" {
		t.Errorf("unexpected candidate %s", third.Identifier())
	}
}

func TestOpenSpecific(t *testing.T) {
	tcases := []struct {
		name        string
		afuName     string
		pf          string
		index       int
		expectedPF  string
		expectedErr error
	}{
		{
			name:       "any",
			afuName:    "IBM,MEMCPY3",
			index:      -1,
			expectedPF: "0004:00:00.1",
		},
		{
			name:       "physical function",
			afuName:    "IBM,MEMCPY3",
			pf:         "0005:00:00.1",
			index:      -1,
			expectedPF: "0005:00:00.1",
		},
		{
			name:       "index",
			afuName:    "IBM,MEMCPY3",
			pf:         "0005:00:00.1",
			index:      0,
			expectedPF: "0005:00:00.1",
		},
		{
			name:        "unknown index",
			afuName:     "IBM,MEMCPY3",
			index:       3,
			expectedErr: ErrNoDev,
		},
		{
			name:        "unknown function",
			afuName:     "IBM,MEMCPY3",
			pf:          "0007:00:00.1",
			index:       -1,
			expectedErr: ErrNoDev,
		},
		{
			name:        "unknown name",
			afuName:     "afp",
			index:       -1,
			expectedErr: ErrNoDev,
		},
		{
			name:        "malformed function",
			afuName:     "IBM,MEMCPY3",
			pf:          "4:0:0.1",
			index:       -1,
			expectedErr: ErrInvalidArgs,
		},
		{
			name:        "name too long",
			afuName:     "abcdefghijklmnopqrstuvwxyz",
			index:       -1,
			expectedErr: ErrNameTooLong,
		},
		{
			name:        "wildcard name",
			afuName:     "IBM*",
			index:       -1,
			expectedErr: ErrInvalidArgs,
		},
		{
			name:        "empty name",
			index:       -1,
			expectedErr: ErrInvalidArgs,
		},
	}
	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestConfig(t, twoFunctionAFU)

			afu, err := c.OpenSpecific(tt.afuName, tt.pf, tt.index)
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("expected %v, got %+v", tt.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}
			defer afu.Close()

			if afu.Identifier().PCI.String() != tt.expectedPF {
				t.Errorf("expected %s, got %s", tt.expectedPF, afu.Identifier())
			}
		})
	}
}

func TestOpenFromDev(t *testing.T) {
	c, _, tree := newTestConfig(t, memcpyAFU)
	dir := t.TempDir()

	link := filepath.Join(dir, "memcpy")
	if err := os.Symlink(filepath.Join(tree.DevPath, memcpyDevice), link); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	stray := filepath.Join(dir, memcpyDevice)
	if err := os.WriteFile(stray, nil, 0644); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	tcases := []struct {
		name        string
		path        string
		expectedErr error
	}{
		{
			name: "device node",
			path: filepath.Join(tree.DevPath, memcpyDevice),
		},
		{
			name: "symlink",
			path: link,
		},
		{
			name:        "file outside the device directory",
			path:        stray,
			expectedErr: ErrNoDev,
		},
		{
			name:        "missing",
			path:        filepath.Join(dir, "missing"),
			expectedErr: ErrNoDev,
		},
	}
	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			afu, err := c.OpenFromDev(tt.path)
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("expected %v, got %+v", tt.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %+v", err)
			}
			defer afu.Close()

			if afu.DevicePath() != filepath.Join(tree.DevPath, memcpyDevice) {
				t.Errorf("expected the canonical device path, got %s", afu.DevicePath())
			}
		})
	}
}

func TestOpenFromDevNameTooLong(t *testing.T) {
	c, _, tree := newTestConfig(t, memcpyAFU)

	long := filepath.Join(tree.DevPath, "abcdefghijklmnopqrstuvwxyz.0004:00:00.1.0")
	if err := os.WriteFile(long, nil, 0644); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if _, err := c.OpenFromDev(long); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("expected ErrNameTooLong, got %v", err)
	}
}

func TestConfigErrorHandler(t *testing.T) {
	c, _, _ := newTestConfig(t, memcpyAFU)

	var messages []string
	c.SetErrorHandler(func(err error, message string) {
		if ErrorKind(err) != ErrNoDev {
			t.Errorf("unexpected kind %v", err)
		}
		messages = append(messages, message)
	})

	if _, err := c.Open("afp"); !errors.Is(err, ErrNoDev) {
		t.Fatalf("expected ErrNoDev, got %v", err)
	}

	if len(messages) != 1 {
		t.Errorf("expected one message, got %v", messages)
	}

	c.EnableMessages(MessageNone)
	_, _ = c.Open("afp")

	if diff := cmp.Diff(1, len(messages)); diff != "" {
		t.Errorf("expected no message with errors disabled (-want +got):\n%s", diff)
	}
}
