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
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AFUNameMax is the longest AFU name the hardware can report.
const AFUNameMax = 24

var (
	pciAddressRE = regexp.MustCompile(`^([[:xdigit:]]{4}):([[:xdigit:]]{2}):([[:xdigit:]]{2})\.([[:xdigit:]])$`)
	deviceNameRE = regexp.MustCompile(`^([^.]+)\.([[:xdigit:]]{4}:[[:xdigit:]]{2}:[[:xdigit:]]{2}\.[[:xdigit:]])\.([0-9]+)$`)
)

// PCIAddress is the physical function an AFU sits behind.
type PCIAddress struct {
	Domain   uint16
	Bus      uint8
	Device   uint8
	Function uint8
}

func (a PCIAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}

// ParsePCIAddress parses a "dddd:bb:dd.f" physical function address.
func ParsePCIAddress(s string) (PCIAddress, error) {
	m := pciAddressRE.FindStringSubmatch(s)
	if m == nil {
		return PCIAddress{}, errors.WithMessagef(ErrInvalidArgs, "malformed physical function %q", s)
	}

	var fields [4]uint64
	for i := range fields {
		// The regexp guarantees the fields fit.
		fields[i], _ = strconv.ParseUint(m[i+1], 16, 16)
	}

	return PCIAddress{
		Domain:   uint16(fields[0]),
		Bus:      uint8(fields[1]),
		Device:   uint8(fields[2]),
		Function: uint8(fields[3]),
	}, nil
}

// Identifier names one AFU instance on the host.
type Identifier struct {
	AFUName  string
	PCI      PCIAddress
	AFUIndex int
}

// String returns the device node name "<name>.<dddd:bb:dd.f>.<index>".
func (id Identifier) String() string {
	if id.AFUName == "" {
		return ""
	}

	return fmt.Sprintf("%s.%s.%d", id.AFUName, id.PCI, id.AFUIndex)
}

// ParseDeviceName parses a device node name into an Identifier.
func ParseDeviceName(name string) (Identifier, error) {
	m := deviceNameRE.FindStringSubmatch(name)
	if m == nil {
		return Identifier{}, errors.WithMessagef(ErrNoDev, "%q is not an AFU device name", name)
	}

	if len(m[1]) > AFUNameMax {
		return Identifier{}, errors.WithMessagef(ErrNameTooLong, "AFU name %q is longer than %d characters", m[1], AFUNameMax)
	}

	pci, err := ParsePCIAddress(m[2])
	if err != nil {
		return Identifier{}, err
	}

	index, err := strconv.Atoi(m[3])
	if err != nil {
		return Identifier{}, errors.WithMessagef(ErrNoDev, "bad AFU index in %q", name)
	}

	return Identifier{AFUName: m[1], PCI: pci, AFUIndex: index}, nil
}

func validateAFUName(name string) error {
	if len(name) > AFUNameMax {
		return errors.WithMessagef(ErrNameTooLong, "AFU name %q is longer than %d characters", name, AFUNameMax)
	}

	if strings.ContainsAny(name, `./*?[]\`) {
		return errors.WithMessagef(ErrInvalidArgs, "AFU name %q contains reserved characters", name)
	}

	return nil
}
