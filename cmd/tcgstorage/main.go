// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/core/uid"
	"github.com/drivetrust/tcgstorage/pkg/drive"
)

func TestComID(d core.DriveIntf) {
	comID, err := core.GetComID(d)
	if err != nil {
		log.Fatalf("Unable to allocate ComID: %v", err)
	}
	log.Printf("Allocated ComID 0x%08x", comID)
	valid, err := core.IsComIDValid(d, comID)
	if err != nil {
		log.Fatalf("Unable to validate allocated ComID: %v", err)
	}
	if !valid {
		log.Fatalf("Allocated ComID not valid")
	}
	log.Printf("ComID validated successfully")

	if err := core.StackReset(d, comID); err != nil {
		log.Fatalf("Unable to reset the synchronous protocol stack: %v", err)
	}
	log.Printf("Synchronous protocol stack reset successfully")
}

func main() {
	spew.Config.Indent = "  "

	d, err := drive.Open(os.Args[1])
	if err != nil {
		log.Fatalf("drive.Open: %v", err)
	}
	defer d.Close()

	fmt.Printf("===> DRIVE SECURITY INFORMATION\n")
	spl, err := drive.SecurityProtocols(d)
	if err != nil {
		log.Fatalf("drive.SecurityProtocols: %v", err)
	}
	log.Printf("SecurityProtocols: %+v", spl)
	crt, err := drive.Certificate(d)
	if err != nil {
		log.Fatalf("drive.Certificate: %v", err)
	}
	log.Printf("Drive certificate:")
	spew.Dump(crt)
	fmt.Printf("\n")

	fmt.Printf("===> TCG ComID SELF-TEST\n")
	TestComID(d)
	fmt.Printf("\n")

	fmt.Printf("===> TCG FEATURE DISCOVERY\n")
	d0, err := core.Discovery0(d)
	if err != nil {
		log.Fatalf("core.Discovery0: %v", err)
	}
	spew.Dump(d0)
	fmt.Printf("\n")

	fmt.Printf("===> TCG SESSION\n")
	comID, _, err := core.FindComID(d, d0)
	if err != nil {
		log.Fatalf("core.FindComID: %v", err)
	}
	cs, err := core.NewControlSession(d, d0, core.WithComID(comID))
	if err != nil {
		log.Fatalf("core.NewControlSession: %v", err)
	}
	defer cs.Close()
	s, err := cs.NewSession(uid.AdminSP, core.WithReadOnly())
	if err != nil {
		log.Fatalf("cs.NewSession: %v", err)
	}
	defer s.Close()
	spew.Dump(s)
}
