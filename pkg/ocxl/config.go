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
	"strings"
	"sync"

	"github.com/go-ini/ini"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/libocxl-go/pkg/ocxl/linux"
)

const (
	// DefaultSysPath is where the kernel publishes AFU attributes.
	DefaultSysPath = "/sys/class/ocxl"
	// DefaultDevPath is where AFU device nodes live.
	DefaultDevPath = "/dev/ocxl"

	// Environment variables consulted by (*Config).Init.
	EnvInfo             = "LIBOCXL_INFO"
	EnvTraceAll         = "LIBOCXL_TRACE_ALL"
	EnvVerboseErrorsAll = "LIBOCXL_VERBOSE_ERRORS_ALL"
	EnvSysPath          = "LIBOCXL_SYSPATH"
	EnvDevPath          = "LIBOCXL_DEVPATH"
)

// Version of the library reported by the info banner.
const Version = "1.2.0"

// ErrorHandler receives process wide error messages.
type ErrorHandler func(err error, message string)

// Config holds process wide settings. The zero value is usable, missing
// fields are filled with defaults by Init.
type Config struct {
	// SysPath is the sysfs class directory of AFUs.
	SysPath string
	// DevPath is the directory of AFU device nodes.
	DevPath string
	// Messages selects messages emitted outside of an AFU context.
	Messages Messages
	// AFUMessages is the initial message selection of new AFU contexts.
	AFUMessages Messages
	// ShowInfo prints the library banner on Init.
	ShowInfo bool
	// ErrorHandler receives error messages emitted outside of an AFU context.
	ErrorHandler ErrorHandler
	// AFUErrorHandler is the initial error handler of new AFU contexts.
	AFUErrorHandler AFUErrorHandler
	// Logger receives trace messages.
	Logger logr.Logger
	// Driver performs the kernel operations.
	Driver linux.Driver

	mu     sync.Mutex
	inited bool
}

var (
	defaultConfig     *Config
	defaultConfigOnce sync.Once
)

// DefaultConfig returns the process wide configuration used by the package
// level functions.
func DefaultConfig() *Config {
	defaultConfigOnce.Do(func() {
		defaultConfig = &Config{}
		defaultConfig.Init()
	})

	return defaultConfig
}

func envEnabled(name string) bool {
	val, ok := os.LookupEnv(name)
	if !ok {
		return false
	}

	return strings.EqualFold(val, "yes") || val == "1"
}

// Init fills defaults and applies the LIBOCXL_* environment. It runs once
// per Config, later calls do nothing.
func (c *Config) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inited {
		return
	}

	if c.SysPath == "" {
		c.SysPath = DefaultSysPath
	}

	if c.DevPath == "" {
		c.DevPath = DefaultDevPath
	}

	if c.Driver == nil {
		c.Driver = linux.NewDriver()
	}

	if c.Logger.GetSink() == nil {
		c.Logger = klog.Background().WithName("ocxl")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = defaultErrorHandler
	}

	if c.AFUErrorHandler == nil {
		c.AFUErrorHandler = defaultAFUErrorHandler
	}

	if envEnabled(EnvInfo) {
		c.ShowInfo = true
	}

	if envEnabled(EnvTraceAll) {
		c.Messages |= MessageTracing
		c.AFUMessages |= MessageTracing
	}

	if envEnabled(EnvVerboseErrorsAll) {
		c.Messages |= MessageErrors
		c.AFUMessages |= MessageErrors
	}

	if val, ok := os.LookupEnv(EnvSysPath); ok && val != "" {
		c.SysPath = val
	}

	if val, ok := os.LookupEnv(EnvDevPath); ok && val != "" {
		c.DevPath = val
	}

	if c.ShowInfo {
		klog.Infof("libocxl-go %s, sysfs %s, devices %s", Version, c.SysPath, c.DevPath)
	}

	c.inited = true
}

// LoadConfig reads an ini file of the form
//
//	[paths]
//	sysfs = /sys/class/ocxl
//	devfs = /dev/ocxl
//
//	[messages]
//	errors = true
//	trace = false
//	info = false
//
// and returns an initialized Config. Missing keys keep their defaults,
// the environment still overrides the file.
func LoadConfig(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ocxl config")
	}

	c := &Config{}

	paths := file.Section("paths")
	c.SysPath = paths.Key("sysfs").String()
	c.DevPath = paths.Key("devfs").String()

	messages := file.Section("messages")
	for key, bit := range map[string]Messages{"errors": MessageErrors, "trace": MessageTracing} {
		k, err := messages.GetKey(key)
		if err != nil {
			continue
		}

		enabled, err := k.Bool()
		if err != nil {
			return nil, errors.Wrapf(err, "Can't parse %s in [%s]", key, messages.Name())
		}

		if enabled {
			c.Messages |= bit
			c.AFUMessages |= bit
		}
	}

	if k, err := messages.GetKey("info"); err == nil {
		if c.ShowInfo, err = k.Bool(); err != nil {
			return nil, errors.Wrapf(err, "Can't parse info in [%s]", messages.Name())
		}
	}

	c.Init()

	return c, nil
}
