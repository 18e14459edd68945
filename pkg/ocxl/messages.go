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

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Messages is a bit mask selecting which diagnostics are emitted.
type Messages uint

const (
	// MessageErrors emits a message for every error returned.
	MessageErrors Messages = 1 << iota
	// MessageTracing emits trace messages of context operations.
	MessageTracing
)

const (
	// MessageNone disables all diagnostics.
	MessageNone Messages = 0
	// MessageAll enables all diagnostics.
	MessageAll = MessageErrors | MessageTracing
)

// AFUErrorHandler receives error messages of a single AFU context.
type AFUErrorHandler func(afu *AFU, err error, message string)

func defaultErrorHandler(err error, message string) {
	klog.Errorf("%s: %s", ErrorString(err), message)
}

func defaultAFUErrorHandler(afu *AFU, err error, message string) {
	klog.Errorf("%s: %s: %s", afu.identifier, ErrorString(err), message)
}

// EnableMessages sets the diagnostics emitted outside of an AFU context.
func (c *Config) EnableMessages(messages Messages) {
	c.Init()
	c.mu.Lock()
	c.Messages = messages
	c.mu.Unlock()
}

// SetErrorHandler replaces the handler of errors emitted outside of an AFU
// context. A nil handler restores the default.
func (c *Config) SetErrorHandler(handler ErrorHandler) {
	c.Init()
	if handler == nil {
		handler = defaultErrorHandler
	}
	c.mu.Lock()
	c.ErrorHandler = handler
	c.mu.Unlock()
}

// EnableMessages sets the diagnostics of the default configuration.
func EnableMessages(messages Messages) {
	DefaultConfig().EnableMessages(messages)
}

// SetErrorHandler sets the error handler of the default configuration.
func SetErrorHandler(handler ErrorHandler) {
	DefaultConfig().SetErrorHandler(handler)
}

// errorf wraps kind with a formatted message and reports it when error
// messages are enabled.
func (c *Config) errorf(kind error, format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)
	err := errors.WithMessage(kind, message)

	c.mu.Lock()
	enabled := c.Messages&MessageErrors != 0
	handler := c.ErrorHandler
	c.mu.Unlock()

	if enabled && handler != nil {
		handler(err, message)
	}

	return err
}

func (c *Config) trace(msg string, keysAndValues ...interface{}) {
	c.mu.Lock()
	enabled := c.Messages&MessageTracing != 0
	c.mu.Unlock()

	if enabled {
		c.Logger.Info(msg, keysAndValues...)
	}
}

// EnableMessages sets the diagnostics emitted for this context.
func (afu *AFU) EnableMessages(messages Messages) {
	afu.messages = messages
}

// SetErrorHandler replaces the handler of errors of this context. A nil
// handler restores the default.
func (afu *AFU) SetErrorHandler(handler AFUErrorHandler) {
	if handler == nil {
		handler = defaultAFUErrorHandler
	}
	afu.errorHandler = handler
}

// SetLogger replaces the sink of trace messages of this context.
func (afu *AFU) SetLogger(logger logr.Logger) {
	afu.logger = logger
}

func (afu *AFU) errorf(kind error, format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)
	err := errors.WithMessage(kind, message)

	if afu.messages&MessageErrors != 0 && afu.errorHandler != nil {
		afu.errorHandler(afu, err, message)
	}

	return err
}

func (afu *AFU) trace(msg string, keysAndValues ...interface{}) {
	if afu.messages&MessageTracing != 0 {
		afu.logger.Info(msg, append([]interface{}{"afu", afu.identifier.String()}, keysAndValues...)...)
	}
}
