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

//go:build linux && (ppc64 || ppc64le || mips || mipsle || mips64 || mips64le)

package linux

// ioctl request encoding for architectures with a three bit direction field.
const (
	iocSizeBits = 13
	iocNone     = 1
	iocRead     = 2
	iocWrite    = 4
)
