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

// ocxl_fakedev generates fake ocxl sysfs and devfs trees from a YAML spec.
// The trees can be passed to ocxl_tool with -sysfs and -devfs, or to the
// library through LIBOCXL_SYSPATH and LIBOCXL_DEVPATH.
package main

import (
	"flag"

	"k8s.io/klog/v2"

	"github.com/intel/libocxl-go/pkg/ocxl/fakeocxl"
)

func main() {
	var name string

	klog.InitFlags(nil)
	flag.StringVar(&name, "yaml", "", "YAML spec for fake AFU sysfs and devfs content")
	flag.Parse()

	if name == "" {
		klog.Fatal("ERROR: no fake device spec provided")
	}

	options, err := fakeocxl.GetOptions(name)
	if err != nil {
		klog.Fatalf("%+v", err)
	}

	tree, err := fakeocxl.GenerateFiles(options)
	if err != nil {
		klog.Fatalf("%+v", err)
	}

	klog.Infof("sysfs: %s", tree.SysPath)
	klog.Infof("devfs: %s", tree.DevPath)
}
