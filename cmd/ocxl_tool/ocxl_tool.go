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
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/intel/libocxl-go/pkg/ocxl"
)

type options struct {
	sysfs   string
	devfs   string
	config  string
	afu     string
	device  string
	area    string
	endian  string
	offset  uint64
	value   uint64
	amr     uint64
	timeout time.Duration
	trace   bool
	errors  bool
}

func main() {
	var opts options

	flag.StringVar(&opts.sysfs, "sysfs", "", "Path to the ocxl sysfs class directory")
	flag.StringVar(&opts.devfs, "devfs", "", "Path to the ocxl device node directory")
	flag.StringVar(&opts.config, "config", "", "Path to an ini configuration file")
	flag.StringVar(&opts.afu, "afu", "", "AFU name")
	flag.StringVar(&opts.device, "d", "", "Path to the AFU device node")
	flag.StringVar(&opts.area, "area", "pp", "MMIO area: global or pp")
	flag.StringVar(&opts.endian, "endian", "host", "MMIO endianness: host, big or little")
	flag.Uint64Var(&opts.offset, "offset", 0, "MMIO offset in bytes")
	flag.Uint64Var(&opts.value, "value", 0, "Value to write")
	flag.Uint64Var(&opts.amr, "amr", 0, "PPC64 AMR value used on attach")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Time to wait for events or devices")
	flag.BoolVar(&opts.trace, "trace", false, "Enable library tracing")
	flag.BoolVar(&opts.errors, "errors", true, "Enable library error messages")

	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Please provide command: list, info, read32, read64, write32, write64, irq, wait")
	}

	cmd := flag.Arg(0)

	if err := validateFlags(cmd, opts); err != nil {
		log.Fatalf("Invalid arguments: %+v", err)
	}

	c, err := newConfig(opts)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	switch cmd {
	case "list":
		err = list(c, opts.afu)
	case "info":
		err = info(c, opts)
	case "read32", "read64":
		err = read(c, cmd, opts)
	case "write32", "write64":
		err = write(c, cmd, opts)
	case "irq":
		err = irq(c, opts)
	case "wait":
		err = wait(c, opts)
	default:
		err = errors.Errorf("unknown command %+v", flag.Args())
	}

	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func validateFlags(cmd string, opts options) error {
	switch cmd {
	case "info", "read32", "read64", "write32", "write64", "irq":
		if opts.afu == "" && opts.device == "" {
			return errors.Errorf("AFU name or device node is missing")
		}
	case "wait":
		if opts.afu == "" {
			return errors.Errorf("AFU name is missing")
		}
	}

	switch cmd {
	case "read32", "read64", "write32", "write64":
		if _, err := parseArea(opts.area); err != nil {
			return err
		}

		if _, err := parseEndian(opts.endian); err != nil {
			return err
		}
	}

	if cmd == "write32" && opts.value > 0xffffffff {
		return errors.Errorf("value %#x does not fit in 32 bits", opts.value)
	}

	return nil
}

func parseArea(s string) (ocxl.MMIOType, error) {
	switch s {
	case "global":
		return ocxl.GlobalMMIO, nil
	case "pp", "per-pasid":
		return ocxl.PerPASIDMMIO, nil
	}

	return ocxl.GlobalMMIO, errors.Errorf("unknown MMIO area %q", s)
}

func parseEndian(s string) (ocxl.Endian, error) {
	switch s {
	case "host":
		return ocxl.HostEndian, nil
	case "big", "be":
		return ocxl.BigEndian, nil
	case "little", "le":
		return ocxl.LittleEndian, nil
	}

	return ocxl.HostEndian, errors.Errorf("unknown endianness %q", s)
}

func newConfig(opts options) (*ocxl.Config, error) {
	c := &ocxl.Config{}

	if opts.config != "" {
		var err error
		if c, err = ocxl.LoadConfig(opts.config); err != nil {
			return nil, err
		}
	}

	if opts.sysfs != "" {
		c.SysPath = opts.sysfs
	}

	if opts.devfs != "" {
		c.DevPath = opts.devfs
	}

	c.Init()

	// Flags add to what the config file and LIBOCXL_* already enabled.
	messages := c.Messages
	afuMessages := c.AFUMessages

	if opts.errors {
		messages |= ocxl.MessageErrors
		afuMessages |= ocxl.MessageErrors
	}

	if opts.trace {
		messages |= ocxl.MessageTracing
		afuMessages |= ocxl.MessageTracing
	}

	c.EnableMessages(messages)
	c.AFUMessages = afuMessages

	return c, nil
}

func open(c *ocxl.Config, opts options) (*ocxl.AFU, error) {
	if opts.device != "" {
		return c.OpenFromDev(opts.device)
	}

	return c.Open(opts.afu)
}

func list(c *ocxl.Config, name string) error {
	afus, err := c.List(name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tVERSION\tGLOBAL MMIO\tPER-PASID MMIO\tCONTEXTS")

	for _, a := range afus {
		fmt.Fprintf(w, "%s\t%d.%d\t%s\t%s\t%d/%d\n", a.Identifier, a.VersionMajor, a.VersionMinor,
			humanize.IBytes(a.GlobalMMIOSize), humanize.IBytes(a.PerPASIDMMIOSize), a.ContextsInUse, a.MaxContexts)
	}

	return w.Flush()
}

func info(c *ocxl.Config, opts options) error {
	afu, err := open(c, opts)
	if err != nil {
		return err
	}
	defer afu.Close()

	if err = afu.SetPPC64AMR(opts.amr); err != nil {
		return err
	}

	if err = afu.Attach(); err != nil {
		return err
	}

	major, minor := afu.Version()

	fmt.Printf("Device              : %s\n", afu.Identifier())
	fmt.Printf("Device node         : %s\n", afu.DevicePath())
	fmt.Printf("Sysfs               : %s\n", afu.SysfsPath())
	fmt.Printf("Version             : %d.%d\n", major, minor)
	fmt.Printf("PASID               : %s\n", humanize.Comma(int64(afu.PASID())))
	fmt.Printf("Global MMIO size    : %s (%s bytes)\n", humanize.IBytes(afu.GlobalMMIOSize()), humanize.Comma(int64(afu.GlobalMMIOSize())))
	fmt.Printf("Per-PASID MMIO size : %s (%s bytes)\n", humanize.IBytes(afu.PerPASIDMMIOSize()), humanize.Comma(int64(afu.PerPASIDMMIOSize())))

	return nil
}

func mapArea(c *ocxl.Config, opts options) (*ocxl.AFU, ocxl.MMIO, ocxl.Endian, error) {
	kind, err := parseArea(opts.area)
	if err != nil {
		return nil, ocxl.MMIO{}, ocxl.HostEndian, err
	}

	endian, err := parseEndian(opts.endian)
	if err != nil {
		return nil, ocxl.MMIO{}, ocxl.HostEndian, err
	}

	afu, err := open(c, opts)
	if err != nil {
		return nil, ocxl.MMIO{}, ocxl.HostEndian, err
	}

	if err = afu.SetPPC64AMR(opts.amr); err == nil {
		err = afu.Attach()
	}

	var m ocxl.MMIO
	if err == nil {
		m, err = afu.MMIOMap(kind)
	}

	if err != nil {
		afu.Close()
		return nil, ocxl.MMIO{}, ocxl.HostEndian, err
	}

	return afu, m, endian, nil
}

func read(c *ocxl.Config, cmd string, opts options) error {
	afu, m, endian, err := mapArea(c, opts)
	if err != nil {
		return err
	}
	defer afu.Close()

	var value uint64
	if cmd == "read32" {
		var v uint32
		v, err = m.Read32(opts.offset, endian)
		value = uint64(v)
	} else {
		value, err = m.Read64(opts.offset, endian)
	}

	if err != nil {
		return err
	}

	fmt.Printf("%#x: %#x\n", opts.offset, value)

	return nil
}

func write(c *ocxl.Config, cmd string, opts options) error {
	afu, m, endian, err := mapArea(c, opts)
	if err != nil {
		return err
	}
	defer afu.Close()

	if cmd == "write32" {
		return m.Write32(opts.offset, endian, uint32(opts.value))
	}

	return m.Write64(opts.offset, endian, opts.value)
}

// irq allocates an interrupt, prints its handle and reports events until
// the timeout expires.
func irq(c *ocxl.Config, opts options) error {
	afu, err := open(c, opts)
	if err != nil {
		return err
	}
	defer afu.Close()

	if err = afu.Attach(); err != nil {
		return err
	}

	id, err := afu.IRQAlloc(nil)
	if err != nil {
		return err
	}

	fmt.Printf("IRQ %d handle %#x\n", id, afu.IRQHandle(id))

	deadline := time.Now().Add(opts.timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		events, err := afu.EventCheck(timeoutMillis(remaining), 16)
		if err != nil {
			return err
		}

		for _, ev := range events {
			switch e := ev.(type) {
			case ocxl.IRQEvent:
				fmt.Printf("IRQ %d handle %#x fired %s times\n", e.IRQ, e.Handle, humanize.Comma(int64(e.Count)))
			case ocxl.TranslationFaultEvent:
				fmt.Printf("Translation fault at %#x dsisr %#x count %s\n", e.Addr, e.DSISR, humanize.Comma(int64(e.Count)))
			}
		}
	}

	return nil
}

// timeoutMillis rounds d up to whole milliseconds so that a positive
// remainder never turns into a zero, non-blocking poll.
func timeoutMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}

	return int((d + time.Millisecond - 1) / time.Millisecond)
}

func wait(c *ocxl.Config, opts options) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	id, err := c.WaitForAFU(ctx, opts.afu)
	if err != nil {
		return err
	}

	fmt.Println(strconv.Quote(id.String()))

	return nil
}
