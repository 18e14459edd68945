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

//---------------------------------------------------------------
// sysfs SPECIFICATION
//
// sys/class/ocxl/<name>.<dddd:bb:dd.f>.<index>/
// sys/class/ocxl/<name>.<dddd:bb:dd.f>.<index>/afu_version (major:minor)
// sys/class/ocxl/<name>.<dddd:bb:dd.f>.<index>/global_mmio_size (bytes, number)
// sys/class/ocxl/<name>.<dddd:bb:dd.f>.<index>/pp_mmio_size (bytes, number)
// sys/class/ocxl/<name>.<dddd:bb:dd.f>.<index>/contexts (in use/max)
// sys/class/ocxl/<name>.<dddd:bb:dd.f>.<index>/global_mmio_area (global_mmio_size bytes)
//---------------------------------------------------------------
// devfs SPECIFICATION
//
// dev/ocxl/<name>.<dddd:bb:dd.f>.<index>
//---------------------------------------------------------------

// Package fakeocxl simulates OpenCAPI AFUs: it generates the sysfs and
// devfs trees of the ocxl driver and implements linux.Driver on top of
// real pollable descriptors.
package fakeocxl

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

const (
	dirMode   = 0775
	fileMode  = 0644
	sysfsPath = "/sys/class/ocxl"
	devfsPath = "/dev/ocxl"
)

// AFUOptions describes one simulated AFU, instantiated behind every listed
// physical function.
type AFUOptions struct {
	Name              string   `yaml:"Name"`              // AFU name, at most 24 characters
	PhysicalFunctions []string `yaml:"PhysicalFunctions"` // dddd:bb:dd.f addresses
	Index             int      `yaml:"Index"`             // AFU index within the function
	Version           string   `yaml:"Version"`           // major:minor
	GlobalMMIOSize    uint64   `yaml:"GlobalMMIOSize"`    // bytes
	PerPASIDMMIOSize  uint64   `yaml:"PerPASIDMMIOSize"`  // bytes
	MaxContexts       int      `yaml:"MaxContexts"`       // 0 for unlimited
	MaxIRQs           int      `yaml:"MaxIRQs"`           // per context, 0 for unlimited
	PASIDBase         uint32   `yaml:"PASIDBase"`         // PASID of the first context
}

// GenOptions represents the struct for our YAML data.
type GenOptions struct {
	Info string       `yaml:"Info"` // Verbal config description
	Path string       `yaml:"Path"` // Path to fake device folder
	AFUs []AFUOptions `yaml:"AFUs"` // Simulated AFUs

	// fields for counting what was generated
	files int
	dirs  int
}

// Tree locates a generated fake tree.
type Tree struct {
	SysPath string
	DevPath string
}

func parseVersion(s string) (major, minor uint8, err error) {
	var ma, mi uint64

	if _, err = fmt.Sscanf(s, "%d:%d", &ma, &mi); err != nil || ma > 255 || mi > 255 {
		return 0, 0, errors.Errorf("malformed AFU version %q", s)
	}

	return uint8(ma), uint8(mi), nil
}

// DeviceName returns the device node name of an AFU behind pf.
func (o AFUOptions) DeviceName(pf string) string {
	return fmt.Sprintf("%s.%s.%d", o.Name, pf, o.Index)
}

func verifyOptions(opts GenOptions) (GenOptions, error) {
	if opts.Path == "" || filepath.Clean(opts.Path) == "/" {
		return opts, errors.Errorf("invalid fake tree root %q", opts.Path)
	}

	for i := range opts.AFUs {
		afu := &opts.AFUs[i]

		if afu.Name == "" {
			return opts, errors.Errorf("AFU %d has no name", i)
		}

		if len(afu.PhysicalFunctions) == 0 {
			return opts, errors.Errorf("AFU %q has no physical function", afu.Name)
		}

		if afu.Version == "" {
			afu.Version = "0:0"
		}

		if _, _, err := parseVersion(afu.Version); err != nil {
			return opts, errors.Wrapf(err, "AFU %q", afu.Name)
		}
	}

	return opts, nil
}

// GetOptionsByYAML parses a YAML fake device spec.
func GetOptionsByYAML(data []byte) (GenOptions, error) {
	if len(data) == 0 {
		return GenOptions{}, errors.New("no fake device spec provided")
	}

	klog.V(1).Infof("Using fake device YAML spec: %s", data)

	var opts GenOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return GenOptions{}, errors.Wrap(err, "unmarshaling YAML spec failed")
	}

	return verifyOptions(opts)
}

// GetOptions reads a YAML fake device spec from file.
func GetOptions(name string) (GenOptions, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return GenOptions{}, errors.Wrapf(err, "reading %s failed", name)
	}

	return GetOptionsByYAML(data)
}

func addSysfsAFUTree(root string, opts *GenOptions, afu AFUOptions, pf string) error {
	base := filepath.Join(root, afu.DeviceName(pf))

	if err := os.MkdirAll(base, dirMode); err != nil {
		return err
	}

	opts.dirs++

	attrs := map[string]string{
		"afu_version":      afu.Version,
		"global_mmio_size": strconv.FormatUint(afu.GlobalMMIOSize, 10),
		"pp_mmio_size":     strconv.FormatUint(afu.PerPASIDMMIOSize, 10),
		"contexts":         fmt.Sprintf("0/%d", afu.MaxContexts),
	}
	for name, value := range attrs {
		if err := os.WriteFile(filepath.Join(base, name), []byte(value+"\n"), fileMode); err != nil {
			return err
		}

		opts.files++
	}

	area, err := os.OpenFile(filepath.Join(base, "global_mmio_area"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}
	defer area.Close()

	if err := area.Truncate(int64(afu.GlobalMMIOSize)); err != nil {
		return err
	}

	opts.files++

	return nil
}

func addDevfsAFUNode(root string, opts *GenOptions, afu AFUOptions, pf string) error {
	if err := os.MkdirAll(root, dirMode); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(root, afu.DeviceName(pf)), nil, fileMode); err != nil {
		return err
	}

	opts.files++

	return nil
}

// GenerateFiles writes the sysfs and devfs trees described by opts under
// opts.Path, replacing any previous fake tree.
func GenerateFiles(opts GenOptions) (Tree, error) {
	if opts.Info != "" {
		klog.V(1).Infof("Config: '%s'", opts.Info)
	}

	tree := Tree{
		SysPath: filepath.Join(opts.Path, sysfsPath),
		DevPath: filepath.Join(opts.Path, devfsPath),
	}

	for _, path := range []string{tree.SysPath, tree.DevPath} {
		if err := os.RemoveAll(path); err != nil {
			return tree, errors.Wrapf(err, "removing existing fake tree %s failed", path)
		}
	}

	if err := os.MkdirAll(tree.SysPath, dirMode); err != nil {
		return tree, errors.WithStack(err)
	}

	if err := os.MkdirAll(tree.DevPath, dirMode); err != nil {
		return tree, errors.WithStack(err)
	}

	klog.V(1).Infof("Generating fake AFU sysfs and devfs content under '%s' & '%s'", tree.SysPath, tree.DevPath)

	opts.dirs, opts.files = 0, 0

	for _, afu := range opts.AFUs {
		for _, pf := range afu.PhysicalFunctions {
			if err := addSysfsAFUTree(tree.SysPath, &opts, afu, pf); err != nil {
				return tree, errors.Wrapf(err, "%s sysfs tree generation failed", afu.DeviceName(pf))
			}

			if err := addDevfsAFUNode(tree.DevPath, &opts, afu, pf); err != nil {
				return tree, errors.Wrapf(err, "%s devfs node generation failed", afu.DeviceName(pf))
			}
		}
	}

	klog.V(1).Infof("Done, created %d dirs and %d files.", opts.dirs, opts.files)

	return tree, nil
}
