// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/drive"
)

func main() {
	d, err := drive.Open(os.Args[1])
	if err != nil {
		log.Fatalf("drive.Open: %v", err)
	}
	defer d.Close()

	d0, err := core.Discovery0(d)
	if err != nil {
		log.Fatalf("core.Discovery0: %v", err)
	}
	spew.Dump(d0)
}
