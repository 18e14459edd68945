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
	"github.com/pkg/errors"
)

// Error kinds. Every error returned by this package wraps exactly one of
// them, use errors.Is or ErrorKind to classify.
var (
	ErrNoMem          = errors.New("no memory")
	ErrNoDev          = errors.New("OpenCAPI device not available")
	ErrNoContext      = errors.New("AFU context not available")
	ErrNoIRQ          = errors.New("AFU interrupt not available")
	ErrInternal       = errors.New("internal error")
	ErrAlreadyDone    = errors.New("already done")
	ErrOutOfBounds    = errors.New("out of bounds")
	ErrNoMoreContexts = errors.New("no more contexts")
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrNameTooLong    = errors.New("name too long")
)

var errorKinds = []error{
	ErrNoMem,
	ErrNoDev,
	ErrNoContext,
	ErrNoIRQ,
	ErrInternal,
	ErrAlreadyDone,
	ErrOutOfBounds,
	ErrNoMoreContexts,
	ErrInvalidArgs,
	ErrNameTooLong,
}

// ErrorKind returns the error kind wrapped by err, nil for nil and
// ErrInternal for errors not produced by this package.
func ErrorKind(err error) error {
	if err == nil {
		return nil
	}

	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}

	return ErrInternal
}

// ErrorString returns a short human readable name of the error kind.
func ErrorString(err error) string {
	if err == nil {
		return "OK"
	}

	return ErrorKind(err).Error()
}
