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

// Session is an attached context with its MMIO areas mapped.
type Session struct {
	*AFU
	// Global is the global MMIO area, not mapped when the AFU has none.
	Global MMIO
	// PerPASID is the per-PASID MMIO area.
	PerPASID MMIO
}

// Use opens a context on an AFU called name, attaches it with the given
// AMR and maps both MMIO areas. Nothing stays acquired on failure.
func (c *Config) Use(name string, amr uint64) (*Session, error) {
	afu, err := c.Open(name)
	if err != nil {
		return nil, err
	}

	s, err := afu.use(amr)
	if err != nil {
		afu.Close()
		return nil, err
	}

	return s, nil
}

func (afu *AFU) use(amr uint64) (*Session, error) {
	if err := afu.SetPPC64AMR(amr); err != nil {
		return nil, err
	}

	if err := afu.Attach(); err != nil {
		return nil, err
	}

	s := &Session{AFU: afu}

	if afu.GlobalMMIOSize() > 0 {
		global, err := afu.MMIOMap(GlobalMMIO)
		if err != nil {
			return nil, err
		}
		s.Global = global
	}

	perPASID, err := afu.MMIOMap(PerPASIDMMIO)
	if err != nil {
		return nil, err
	}
	s.PerPASID = perPASID

	return s, nil
}

// Use opens an AFU session using DefaultConfig.
func Use(name string, amr uint64) (*Session, error) {
	return DefaultConfig().Use(name, amr)
}
