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
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// report forwards an already classified error to the process wide sink.
func (c *Config) report(err error) error {
	c.mu.Lock()
	enabled := c.Messages&MessageErrors != 0
	handler := c.ErrorHandler
	c.mu.Unlock()

	if enabled && handler != nil {
		handler(err, err.Error())
	}

	return err
}

// devicePattern returns the glob matching device nodes of an AFU. An
// empty pf or a negative index match any value.
func (c *Config) devicePattern(name, pf string, index int) (string, error) {
	if name == "" {
		name = "*"
	} else if err := validateAFUName(name); err != nil {
		return "", err
	}

	if pf == "" {
		pf = "*"
	} else if _, err := ParsePCIAddress(pf); err != nil {
		return "", err
	}

	idx := "*"
	if index >= 0 {
		idx = fmt.Sprint(index)
	}

	return filepath.Join(c.DevPath, fmt.Sprintf("%s.%s.%s", name, pf, idx)), nil
}

// candidates returns the device nodes matching the arguments, sorted by
// name.
func (c *Config) candidates(name, pf string, index int) ([]string, error) {
	c.Init()

	pattern, err := c.devicePattern(name, pf, index)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.WithMessagef(ErrInvalidArgs, "bad device pattern %q: %v", pattern, err)
	}

	devices := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, err := ParseDeviceName(filepath.Base(m)); err != nil {
			continue
		}
		devices = append(devices, m)
	}

	return devices, nil
}

// OpenSpecific opens a context on the AFU called name. An empty pf and a
// negative index match any physical function and AFU index. Candidates
// that ran out of contexts are skipped, ErrNoMoreContexts is returned only
// when every candidate did.
func (c *Config) OpenSpecific(name, pf string, index int) (*AFU, error) {
	if name == "" {
		return nil, c.report(errors.WithMessage(ErrInvalidArgs, "AFU name must not be empty"))
	}

	devices, err := c.candidates(name, pf, index)
	if err != nil {
		return nil, c.report(err)
	}

	if len(devices) == 0 {
		return nil, c.errorf(ErrNoDev, "no AFU named %q matches physical function %q index %d in %s", name, pf, index, c.DevPath)
	}

	var lastErr error

	for _, dev := range devices {
		afu, err := c.OpenFromDev(dev)
		if err == nil {
			return afu, nil
		}

		if !errors.Is(err, ErrNoMoreContexts) {
			return nil, err
		}

		c.trace("no more contexts, trying the next candidate", "device", dev)
		lastErr = err
	}

	return nil, lastErr
}

// Open opens a context on any AFU called name.
func (c *Config) Open(name string) (*AFU, error) {
	return c.OpenSpecific(name, "", -1)
}

// OpenFromDev opens a context on the AFU behind the device node at path.
// The node is either one of the entries of DevPath, possibly reached
// through a symlink, or another node with the same device number.
func (c *Config) OpenFromDev(path string) (*AFU, error) {
	c.Init()

	name, err := c.deviceName(path)
	if err != nil {
		return nil, c.report(err)
	}

	id, err := ParseDeviceName(name)
	if err != nil {
		return nil, c.report(err)
	}

	return c.open(id, filepath.Join(c.DevPath, name), filepath.Join(c.SysPath, name))
}

// deviceName finds the DevPath entry naming the device node at path.
func (c *Config) deviceName(path string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return "", errors.WithMessagef(ErrNoDev, "could not stat AFU device %q: %v", path, err)
	}

	devDir, err := filepath.EvalSymlinks(c.DevPath)
	if err != nil {
		devDir = filepath.Clean(c.DevPath)
	}

	if realPath, err := filepath.EvalSymlinks(path); err == nil && filepath.Dir(realPath) == devDir {
		return filepath.Base(realPath), nil
	}

	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return "", errors.WithMessagef(ErrNoDev, "%q is neither an entry of %s nor a character device", path, c.DevPath)
	}

	entries, err := os.ReadDir(devDir)
	if err != nil {
		return "", errors.WithMessagef(ErrNoDev, "could not list %s: %v", devDir, err)
	}

	for _, entry := range entries {
		var est unix.Stat_t
		if err := unix.Stat(filepath.Join(devDir, entry.Name()), &est); err != nil {
			continue
		}

		if est.Mode&unix.S_IFMT == unix.S_IFCHR && est.Rdev == st.Rdev {
			return entry.Name(), nil
		}
	}

	return "", errors.WithMessagef(ErrNoDev, "device %d:%d of %q is not an AFU", unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev)), path)
}

// Open opens a context on any AFU called name using DefaultConfig.
func Open(name string) (*AFU, error) {
	return DefaultConfig().Open(name)
}

// OpenSpecific opens a context on a specific AFU using DefaultConfig.
func OpenSpecific(name, pf string, index int) (*AFU, error) {
	return DefaultConfig().OpenSpecific(name, pf, index)
}

// OpenFromDev opens a context from a device node using DefaultConfig.
func OpenFromDev(path string) (*AFU, error) {
	return DefaultConfig().OpenFromDev(path)
}
