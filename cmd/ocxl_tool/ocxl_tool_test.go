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

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/intel/libocxl-go/pkg/ocxl"
)

func TestValidateFlags(t *testing.T) {
	tcases := []struct {
		name        string
		cmd         string
		opts        options
		expectedErr bool
	}{
		{
			name: "list without arguments",
			cmd:  "list",
		},
		{
			name:        "info without AFU",
			cmd:         "info",
			expectedErr: true,
		},
		{
			name: "info by device",
			cmd:  "info",
			opts: options{device: "/dev/ocxl/afu.0004:00:00.1.0"},
		},
		{
			name:        "wait by device",
			cmd:         "wait",
			opts:        options{device: "/dev/ocxl/afu.0004:00:00.1.0"},
			expectedErr: true,
		},
		{
			name: "read32",
			cmd:  "read32",
			opts: options{afu: "afu", area: "global", endian: "be"},
		},
		{
			name:        "bad area",
			cmd:         "read64",
			opts:        options{afu: "afu", area: "lpc", endian: "host"},
			expectedErr: true,
		},
		{
			name:        "bad endian",
			cmd:         "write64",
			opts:        options{afu: "afu", area: "pp", endian: "middle"},
			expectedErr: true,
		},
		{
			name:        "write32 overflow",
			cmd:         "write32",
			opts:        options{afu: "afu", area: "pp", endian: "host", value: 1 << 32},
			expectedErr: true,
		},
		{
			name: "write64 wide value",
			cmd:  "write64",
			opts: options{afu: "afu", area: "pp", endian: "little", value: 1 << 32},
		},
	}
	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(tt.cmd, tt.opts)
			if tt.expectedErr && err == nil {
				t.Error("expected error, but got success")
			}
			if !tt.expectedErr && err != nil {
				t.Errorf("unexpected error: %+v", err)
			}
		})
	}
}

func TestParseEndian(t *testing.T) {
	for input, expected := range map[string]ocxl.Endian{
		"host":   ocxl.HostEndian,
		"big":    ocxl.BigEndian,
		"be":     ocxl.BigEndian,
		"little": ocxl.LittleEndian,
		"le":     ocxl.LittleEndian,
	} {
		endian, err := parseEndian(input)
		if err != nil || endian != expected {
			t.Errorf("%s: expected %v, got %v, %v", input, expected, endian, err)
		}
	}

	if _, err := parseEndian("pdp"); err == nil {
		t.Error("expected error, but got success")
	}
}

func TestNewConfig(t *testing.T) {
	t.Setenv(ocxl.EnvTraceAll, "")
	t.Setenv(ocxl.EnvVerboseErrorsAll, "")

	dir := t.TempDir()
	conf := filepath.Join(dir, "ocxl.conf")

	if err := os.WriteFile(conf, []byte("[paths]\nsysfs = /from/file\ndevfs = /from/file/dev\n"), 0644); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	c, err := newConfig(options{config: conf, devfs: "/from/flag", trace: true})
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if c.SysPath != "/from/file" || c.DevPath != "/from/flag" {
		t.Errorf("unexpected paths %s %s", c.SysPath, c.DevPath)
	}

	if c.Messages != ocxl.MessageTracing || c.AFUMessages != ocxl.MessageTracing {
		t.Errorf("unexpected messages %v %v", c.Messages, c.AFUMessages)
	}

	t.Setenv(ocxl.EnvVerboseErrorsAll, "1")

	if c, err = newConfig(options{trace: true}); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	if c.Messages != ocxl.MessageAll || c.AFUMessages != ocxl.MessageAll {
		t.Errorf("expected the environment and flags to be combined, got %v %v", c.Messages, c.AFUMessages)
	}

	if _, err = newConfig(options{config: filepath.Join(dir, "missing.conf")}); err == nil {
		t.Error("expected error, but got success")
	}
}

func TestTimeoutMillis(t *testing.T) {
	for d, expected := range map[time.Duration]int{
		-time.Second:                       0,
		0:                                  0,
		time.Microsecond:                   1,
		999 * time.Microsecond:             1,
		time.Millisecond:                   1,
		time.Millisecond + time.Nanosecond: 2,
		10 * time.Second:                   10000,
	} {
		if got := timeoutMillis(d); got != expected {
			t.Errorf("%v: expected %d, got %d", d, expected, got)
		}
	}
}
