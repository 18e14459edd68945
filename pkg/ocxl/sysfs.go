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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AFUInfo describes an AFU as published in sysfs, without opening it.
type AFUInfo struct {
	Identifier       Identifier
	DevicePath       string
	SysfsPath        string
	VersionMajor     uint8
	VersionMinor     uint8
	GlobalMMIOSize   uint64
	PerPASIDMMIOSize uint64
	// ContextsInUse and MaxContexts are zero when the kernel does not
	// publish them.
	ContextsInUse int
	MaxContexts   int
}

// small helper function that reads several files into provided set of variables.
func readFilesInDirectory(fileMap map[string]*string, dir string) error {
	for k, v := range fileMap {
		b, err := os.ReadFile(filepath.Join(dir, k))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "%s: unable to read file %q", dir, k)
		}
		*v = strings.TrimSpace(string(b))
	}
	return nil
}

func parseVersion(s string) (major, minor uint8, err error) {
	fields := strings.SplitN(s, ":", 2)
	if len(fields) != 2 {
		return 0, 0, errors.Errorf("malformed AFU version %q", s)
	}

	ma, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed AFU version %q", s)
	}

	mi, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed AFU version %q", s)
	}

	return uint8(ma), uint8(mi), nil
}

func parseSize(name, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed %s %q", name, s)
	}

	return v, nil
}

// Describe reads the sysfs attributes of the AFU with the given identity.
func (c *Config) Describe(id Identifier) (AFUInfo, error) {
	c.Init()

	info := AFUInfo{
		Identifier: id,
		DevicePath: filepath.Join(c.DevPath, id.String()),
		SysfsPath:  filepath.Join(c.SysPath, id.String()),
	}

	if _, err := os.Stat(info.SysfsPath); err != nil {
		return AFUInfo{}, c.errorf(ErrNoDev, "no sysfs entry for AFU %s: %v", id, err)
	}

	var version, globalSize, ppSize, contexts string

	fileMap := map[string]*string{
		"afu_version":      &version,
		"global_mmio_size": &globalSize,
		"pp_mmio_size":     &ppSize,
		"contexts":         &contexts,
	}
	if err := readFilesInDirectory(fileMap, info.SysfsPath); err != nil {
		return AFUInfo{}, c.errorf(ErrNoDev, "%v", err)
	}

	var err error

	if version != "" {
		if info.VersionMajor, info.VersionMinor, err = parseVersion(version); err != nil {
			return AFUInfo{}, c.errorf(ErrInternal, "%s: %v", id, err)
		}
	}

	if info.GlobalMMIOSize, err = parseSize("global_mmio_size", globalSize); err != nil {
		return AFUInfo{}, c.errorf(ErrInternal, "%s: %v", id, err)
	}

	if info.PerPASIDMMIOSize, err = parseSize("pp_mmio_size", ppSize); err != nil {
		return AFUInfo{}, c.errorf(ErrInternal, "%s: %v", id, err)
	}

	if contexts != "" {
		if _, err := fmt.Sscanf(contexts, "%d/%d", &info.ContextsInUse, &info.MaxContexts); err != nil {
			return AFUInfo{}, c.errorf(ErrInternal, "%s: malformed contexts %q: %v", id, contexts, err)
		}
	}

	return info, nil
}

// List describes every AFU called name, or every AFU when name is empty.
func (c *Config) List(name string) ([]AFUInfo, error) {
	devices, err := c.candidates(name, "", -1)
	if err != nil {
		return nil, c.report(err)
	}

	infos := make([]AFUInfo, 0, len(devices))

	for _, dev := range devices {
		id, err := ParseDeviceName(filepath.Base(dev))
		if err != nil {
			continue
		}

		info, err := c.Describe(id)
		if err != nil {
			return nil, err
		}

		infos = append(infos, info)
	}

	return infos, nil
}

// List describes AFUs using DefaultConfig.
func List(name string) ([]AFUInfo, error) {
	return DefaultConfig().List(name)
}

// Describe describes an AFU using DefaultConfig.
func Describe(id Identifier) (AFUInfo, error) {
	return DefaultConfig().Describe(id)
}
