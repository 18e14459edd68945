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
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// WaitForAFU blocks until a device node of an AFU called name exists in
// DevPath and returns its identity. An empty name matches any AFU.
func (c *Config) WaitForAFU(ctx context.Context, name string) (Identifier, error) {
	c.Init()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Identifier{}, c.errorf(ErrInternal, "failed to create watcher for %s: %v", c.DevPath, err)
	}
	defer watcher.Close()

	if err = watcher.Add(c.DevPath); err != nil {
		return Identifier{}, c.errorf(ErrNoDev, "failed to add %s to watcher: %v", c.DevPath, err)
	}

	// Nodes created before the watch was armed.
	devices, err := c.candidates(name, "", -1)
	if err != nil {
		return Identifier{}, c.report(err)
	}

	if len(devices) > 0 {
		return ParseDeviceName(filepath.Base(devices[0]))
	}

	for {
		select {
		case ev := <-watcher.Events:
			if !ev.Has(fsnotify.Create) {
				continue
			}

			id, err := ParseDeviceName(filepath.Base(ev.Name))
			if err != nil || (name != "" && id.AFUName != name) {
				continue
			}

			c.trace("AFU device appeared", "device", ev.Name)

			return id, nil
		case err := <-watcher.Errors:
			return Identifier{}, c.errorf(ErrInternal, "%v", errors.WithStack(err))
		case <-ctx.Done():
			return Identifier{}, c.errorf(ErrNoDev, "no AFU named %q appeared in %s: %v", name, c.DevPath, ctx.Err())
		}
	}
}

// WaitForAFU waits for an AFU using DefaultConfig.
func WaitForAFU(ctx context.Context, name string) (Identifier, error) {
	return DefaultConfig().WaitForAFU(ctx, name)
}
