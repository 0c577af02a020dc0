// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// sedeval is a thin front-end over pkg/debug and pkg/ssc for exercising the
// fault-injection, step-by-step and concurrent-session-pool evaluation
// scenarios that would otherwise require hand-wiring a program against a
// real (or deliberately flaky) TPer.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"

	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/core/table"
	"github.com/drivetrust/tcgstorage/pkg/core/uid"
	"github.com/drivetrust/tcgstorage/pkg/debug"
	"github.com/drivetrust/tcgstorage/pkg/locking"
	"github.com/drivetrust/tcgstorage/pkg/sessionpool"
	"github.com/drivetrust/tcgstorage/pkg/ssc"
)

// context is the context struct required by kong command line parser.
type context struct{}

type discoverCmd struct {
	Device string `flag:"" required:"" short:"d" help:"Path to SED device (e.g. /dev/nvme0)"`
	Raw    bool   `flag:"" optional:"" help:"Dump the undecoded Level 0 Discovery response instead of the parsed form"`
}

type faultCmd struct {
	Device string `flag:"" required:"" short:"d" help:"Path to SED device (e.g. /dev/nvme0)"`
	Point  string `flag:"" required:"" enum:"BeforeIfSend,AfterIfSend,BeforeIfRecv,AfterIfRecv,AfterRecvMethod,AfterDiscovery,BeforeBuildMethod" help:"FaultPoint to arm"`
	Times  int    `flag:"" optional:"" default:"1" help:"Number of times the fault fires before disarming"`
}

type ownCmd struct {
	Device string `flag:"" required:"" short:"d" help:"Path to SED device (e.g. /dev/nvme0)"`
	NewSID string `flag:"" required:"" help:"New SID PIN to set, hex-encoded"`
}

type poolCmd struct {
	Device  string `flag:"" required:"" short:"d" help:"Path to SED device (e.g. /dev/nvme0)"`
	Size    int    `flag:"" optional:"" default:"4" help:"Number of pre-authenticated sessions to keep in the pool"`
	Workers int    `flag:"" optional:"" default:"8" help:"Number of concurrent callers acquiring from the pool"`
	Rounds  int    `flag:"" optional:"" default:"20" help:"Acquire/release rounds run by each worker"`
}

type bandCmd struct {
	Device string `flag:"" required:"" short:"d" help:"Path to SED device (e.g. /dev/nvme0)"`
	Band   int    `flag:"" optional:"" default:"0" help:"Band (range) index, 0 == GlobalRange"`
}

var cli struct {
	Discover discoverCmd `cmd:"" help:"Dump Level 0 Discovery, parsed or raw"`
	Fault    faultCmd    `cmd:"" help:"Arm a fault point and observe the session engine's reaction"`
	Own      ownCmd      `cmd:"" help:"Take ownership of AdminSP, observing each step"`
	Pool     poolCmd     `cmd:"" help:"Drive a bounded session pool with concurrent workers"`
	Band     bandCmd     `cmd:"" help:"Report Enterprise band (range) lock state"`
}

func openCore(device string) (*core.Core, error) {
	coreObj, err := core.NewCore(device)
	if err != nil {
		return nil, fmt.Errorf("core.NewCore(%s): %w", device, err)
	}
	return coreObj, nil
}

func (c *discoverCmd) Run(ctx *context) error {
	coreObj, err := openCore(c.Device)
	if err != nil {
		return err
	}
	if c.Raw {
		raw, err := core.Discovery0Raw(coreObj.DriveIntf)
		if err != nil {
			return fmt.Errorf("Discovery0Raw: %w", err)
		}
		fmt.Print(hex.Dump(raw))
		return nil
	}
	spew.Dump(coreObj.DiskInfo.Level0Discovery.Info())
	return nil
}

// Run arms the named fault point on a fresh TestContext-scoped TestSession,
// opens an AdminSP session with that TestSession attached, attempts an
// Admin_TPerInfo read (a method call cheap enough to be harmless on any
// drive), and prints what the fault did to it along with the session's
// fault trace.
func (c *faultCmd) Run(ctx *context) error {
	coreObj, err := openCore(c.Device)
	if err != nil {
		return err
	}
	comID, _, err := core.FindComID(coreObj.DriveIntf, coreObj.DiskInfo.Level0Discovery)
	if err != nil {
		return fmt.Errorf("FindComID: %w", err)
	}
	cs, err := core.NewControlSession(coreObj.DriveIntf, coreObj.DiskInfo.Level0Discovery, core.WithComID(comID))
	if err != nil {
		return fmt.Errorf("NewControlSession: %w", err)
	}
	defer cs.Close()

	point, ok := parseFaultPoint(c.Point)
	if !ok {
		return fmt.Errorf("unknown fault point %q", c.Point)
	}

	tc := debug.NewTestContext()
	tc.Enable()
	f := debug.NewFault("sedeval-"+c.Point).At(point).Times(c.Times).
		ReturnError(fmt.Errorf("sedeval: injected failure at %s", c.Point)).
		Build()
	ts := tc.NewSession("sedeval-fault").Fault(f)
	defer ts.Close()

	s, err := cs.NewSession(uid.AdminSP, core.WithTestSession(ts))
	if err != nil {
		fmt.Printf("NewSession failed (expected if the fault fires during session open): %v\n", err)
	} else {
		defer s.Close()
		if _, err := table.Admin_TPerInfo(s); err != nil {
			fmt.Printf("method call failed as expected: %v\n", err)
		} else {
			fmt.Println("method call succeeded (fault did not fire on this path)")
		}
	}

	fmt.Printf("fault counter: %d\n", ts.Counter(f.Name))
	fmt.Println("trace:")
	for _, e := range ts.Trace() {
		fmt.Printf("  seq=%d point=%s fault=%s result=%s\n", e.Seq, e.Point, e.Fault, e.Result)
	}
	return nil
}

func parseFaultPoint(s string) (debug.FaultPoint, bool) {
	for _, p := range []debug.FaultPoint{
		debug.BeforeIfSend, debug.AfterIfSend, debug.BeforeIfRecv, debug.AfterIfRecv,
		debug.AfterRecvMethod, debug.AfterDiscovery, debug.BeforeBuildMethod,
	} {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

func (c *ownCmd) Run(ctx *context) error {
	newSID, err := hex.DecodeString(c.NewSID)
	if err != nil {
		return fmt.Errorf("decoding --new-sid: %w", err)
	}
	coreObj, err := openCore(c.Device)
	if err != nil {
		return err
	}
	a, err := ssc.Open(coreObj)
	if err != nil {
		return fmt.Errorf("ssc.Open: %w", err)
	}
	fmt.Printf("SSC: %s\n", a.Kind)
	err = a.TakeOwnershipObserved(newSID, func(step string, stepErr error) bool {
		status := "ok"
		if stepErr != nil {
			status = stepErr.Error()
		}
		fmt.Printf("  step=%-20s %s\n", step, status)
		return stepErr == nil
	})
	if err != nil {
		return fmt.Errorf("TakeOwnershipObserved: %w", err)
	}
	fmt.Println("ownership taken")
	return nil
}

// Run opens a bounded pool of pre-authenticated Locking SP sessions and
// drives it with concurrent workers, each repeatedly acquiring a session,
// running a raw Level 0 Discovery on the drive, and releasing the session.
// The acquired session itself carries no method call. This exercises the
// same acquire/release contention pattern as a multi-threaded stress run
// against a single locking range table, without needing real concurrent
// hardware access to notice a pool sized too small for its workers.
func (c *poolCmd) Run(ctx *context) error {
	coreObj, err := openCore(c.Device)
	if err != nil {
		return err
	}
	cs, lmeta, err := locking.Initialize(coreObj)
	if err != nil {
		return fmt.Errorf("locking.Initialize: %w", err)
	}
	defer cs.Close()

	auth := locking.DefaultAuthorityWithMSID
	authenticate := func(s *core.Session) error {
		return auth.AuthenticateLockingSP(s, lmeta)
	}

	pool, err := sessionpool.New(cs, lmeta.SPID, c.Size, authenticate)
	if err != nil {
		return fmt.Errorf("sessionpool.New: %w", err)
	}
	defer pool.Close()

	var wg sync.WaitGroup
	var failures int64
	var mu sync.Mutex
	ctxDeadline, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for w := 0; w < c.Workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for r := 0; r < c.Rounds; r++ {
				s, err := pool.Acquire(ctxDeadline)
				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					return
				}
				_, err = core.Discovery0Raw(coreObj.DriveIntf)
				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
				}
				pool.Release(s)
			}
		}(w)
	}
	wg.Wait()

	fmt.Printf("pool size=%d idle=%d workers=%d rounds=%d failures=%d\n",
		pool.Size(), pool.Idle(), c.Workers, c.Rounds, failures)
	return nil
}

func (c *bandCmd) Run(ctx *context) error {
	coreObj, err := openCore(c.Device)
	if err != nil {
		return err
	}
	a, err := ssc.Open(coreObj)
	if err != nil {
		return fmt.Errorf("ssc.Open: %w", err)
	}
	info, err := a.GetLockingInfo(locking.DefaultAuthorityWithMSID, c.Band)
	if err != nil {
		return fmt.Errorf("GetLockingInfo: %w", err)
	}
	spew.Dump(info)
	return nil
}

const (
	programName = "sedeval"
	programDesc = "TCG Storage fault-injection and evaluation harness"
)

func main() {
	spew.Config.Indent = "  "
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))
	err := ctx.Run(&context{})
	ctx.FatalIfErrorf(err)
}
