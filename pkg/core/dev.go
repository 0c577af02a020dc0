// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"

	"github.com/drivetrust/tcgstorage/pkg/drive"
)

// Core holds the device interface to access IFSend/IFReceive functions as well as disk information
// obtained by the Identify and Discovery functions. This struct shall be use to interface the library
type Core struct {
	drive.DriveIntf
	DiskInfo
}

func NewCore(device string) (*Core, error) {
	d, err := drive.Open(device)
	if err != nil {
		return nil, fmt.Errorf("open device %s failed: %v", device, err)
	}
	ident, err := d.Identify()
	if err != nil {
		return nil, fmt.Errorf("identify device %s failed: %v", device, err)
	}
	c := &Core{
		DriveIntf: d,
		DiskInfo: DiskInfo{
			Identity: ident,
		},
	}
	if err := c.Discovery0(); err != nil {
		return nil, err
	}
	return c, nil
}

// diskInfo holds information obtained by Discovery0 and Identify functions.
type DiskInfo struct {
	*Level0Discovery
	*drive.Identity
}

// Discovery0 runs a Level 0 SSC Discovery against the Core's own drive
// handle and stores the result in DiskInfo. It delegates the actual wire
// parsing to the package-level Discovery0, keeping exactly one feature
// decode implementation.
func (d *Core) Discovery0() error {
	d0, err := Discovery0(d.DriveIntf)
	if err != nil {
		return err
	}
	d.DiskInfo.Level0Discovery = d0
	return nil
}

func (c *Core) Close() error {
	return c.DriveIntf.Close()
}
