// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ssc presents a single intent-level API over the Opal, Pyrite and
// Enterprise SSCs, dispatching to pkg/locking and pkg/core/table underneath.
// It does not replace those packages: callers who need SSC-specific
// behavior (e.g. Enterprise's per-band authorities) still reach into
// pkg/locking/pkg/core/table directly. Adapter exists for callers that just
// want "lock this range" or "take ownership" without caring which SSC a
// given drive happens to speak.
package ssc

import (
	"fmt"
	"strings"

	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/core/table"
	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
	"github.com/drivetrust/tcgstorage/pkg/core/uid"
	"github.com/drivetrust/tcgstorage/pkg/locking"
)

// Kind identifies which SSC family a drive implements.
type Kind int

const (
	KindUnknown Kind = iota
	KindOpal
	KindPyrite
	KindEnterprise
)

func (k Kind) String() string {
	switch k {
	case KindOpal:
		return "Opal"
	case KindPyrite:
		return "Pyrite"
	case KindEnterprise:
		return "Enterprise"
	default:
		return "Unknown"
	}
}

func classify(info core.DiscoveryInfo) Kind {
	switch {
	case info.SSC.Enterprise:
		return KindEnterprise
	case strings.HasPrefix(info.SSC.Name, "Pyrite"):
		return KindPyrite
	case strings.HasPrefix(info.SSC.Name, "Opal"):
		return KindOpal
	default:
		return KindUnknown
	}
}

// Adapter wraps a core.Core that has already run Discovery0, plus the
// control session and metadata produced by locking.Initialize, and
// dispatches intent-level operations against the right SSC.
type Adapter struct {
	Kind  Kind
	Core  *core.Core
	cs    *core.ControlSession
	lmeta *locking.LockingSPMeta
}

// Open runs locking.Initialize against coreObj (which must already have a
// successful Discovery0) and classifies the resulting SSC.
func Open(coreObj *core.Core, opts ...locking.InitializeOpt) (*Adapter, error) {
	if coreObj.DiskInfo.Level0Discovery == nil {
		return nil, fmt.Errorf("ssc: core has no Level0Discovery, call Discovery0 first")
	}
	cs, lmeta, err := locking.Initialize(coreObj, opts...)
	if err != nil {
		return nil, fmt.Errorf("ssc: initialize failed: %v", err)
	}
	info := coreObj.DiskInfo.Level0Discovery.Info()
	return &Adapter{
		Kind:  classify(info),
		Core:  coreObj,
		cs:    cs,
		lmeta: lmeta,
	}, nil
}

// TakeOwnership authenticates to the AdminSP with the Manufacturer-Supplied
// ID (MSID) PIN recorded during Open and replaces it with newSID, so that
// the factory-default credential can no longer be used.
func (a *Adapter) TakeOwnership(newSID []byte) error {
	if len(a.lmeta.MSID) == 0 {
		return fmt.Errorf("ssc: no MSID available, cannot take ownership")
	}
	as, err := a.cs.NewSession(uid.AdminSP)
	if err != nil {
		return fmt.Errorf("ssc: admin session failed: %v", err)
	}
	defer as.Close()
	if err := table.ThisSP_Authenticate(as, uid.AuthoritySID, a.lmeta.MSID); err != nil {
		return fmt.Errorf("ssc: MSID authentication failed: %v", err)
	}
	if err := table.Admin_C_Pin_SID_SetPIN(as, newSID); err != nil {
		return fmt.Errorf("ssc: setting SID PIN failed: %v", err)
	}
	return nil
}

// StepObserver is called after each step of TakeOwnershipObserved, naming
// the step and carrying the error (if any) that step produced. Returning
// false aborts the sequence before the next step runs; the error from the
// step that triggered the abort is what TakeOwnershipObserved returns.
type StepObserver func(step string, err error) (cont bool)

// TakeOwnershipObserved performs the same sequence as TakeOwnership
// (authenticate with MSID, set a new SID PIN) but invokes observe after
// each step, for evaluation tooling that wants to see the outcome of each
// step as it happens rather than only the final result.
func (a *Adapter) TakeOwnershipObserved(newSID []byte, observe StepObserver) error {
	if len(a.lmeta.MSID) == 0 {
		err := fmt.Errorf("ssc: no MSID available, cannot take ownership")
		observe("check_msid", err)
		return err
	}
	observe("check_msid", nil)

	as, err := a.cs.NewSession(uid.AdminSP)
	if !observe("open_admin_session", err) || err != nil {
		if err != nil {
			return fmt.Errorf("ssc: admin session failed: %v", err)
		}
		return nil
	}
	defer as.Close()

	err = table.ThisSP_Authenticate(as, uid.AuthoritySID, a.lmeta.MSID)
	if !observe("authenticate_msid", err) || err != nil {
		if err != nil {
			return fmt.Errorf("ssc: MSID authentication failed: %v", err)
		}
		return nil
	}

	err = table.Admin_C_Pin_SID_SetPIN(as, newSID)
	observe("set_sid_pin", err)
	if err != nil {
		return fmt.Errorf("ssc: setting SID PIN failed: %v", err)
	}
	return nil
}

// ActivateLockingSP opens the Locking SP with auth and returns a
// locking.LockingSP ready for range operations. It does not activate the
// SP itself: for the Opal family, activation out of Manufactured-Inactive
// happens in Open, and only if the caller passed locking.WithActivate().
func (a *Adapter) ActivateLockingSP(auth locking.LockingSPAuthenticator, opts ...core.SessionOpt) (*locking.LockingSP, error) {
	return locking.NewSession(a.cs, a.lmeta, auth, opts...)
}

// LockBand authenticates to the Locking SP and sets the read/write lock
// state of the numbered band (0 == GlobalRange). For Enterprise this is the
// BandMasterN authority; for Opal/Pyrite it is range index n within
// LockingSP.Ranges.
func (a *Adapter) LockBand(auth locking.LockingSPAuthenticator, n int, read, write bool) error {
	l, err := locking.NewSession(a.cs, a.lmeta, auth)
	if err != nil {
		return err
	}
	defer l.Close()
	if n < 0 || n >= len(l.Ranges) {
		return tcgerr.New(tcgerr.KindInvalidArgument, fmt.Sprintf("ssc: band %d out of range (have %d)", n, len(l.Ranges)))
	}
	r := l.Ranges[n]
	if read {
		if err := r.LockRead(); err != nil {
			return err
		}
	} else if err := r.UnlockRead(); err != nil {
		return err
	}
	if write {
		if err := r.LockWrite(); err != nil {
			return err
		}
	} else if err := r.UnlockWrite(); err != nil {
		return err
	}
	return nil
}

// SetRangeLock is an alias for LockBand kept for callers translating
// directly from the original evaluation tooling's setRangeLock naming.
func (a *Adapter) SetRangeLock(auth locking.LockingSPAuthenticator, n int, read, write bool) error {
	return a.LockBand(auth, n, read, write)
}

// LockingInfoSnapshot is the subset of table.LockingRow fields exposed by
// GetLockingInfo, independent of SSC.
type LockingInfoSnapshot struct {
	RangeStart       uint64
	RangeLength      uint64
	ReadLockEnabled  bool
	WriteLockEnabled bool
	ReadLocked       bool
	WriteLocked      bool
}

// GetLockingInfo authenticates to the Locking SP and reads back band n's
// current lock state.
func (a *Adapter) GetLockingInfo(auth locking.LockingSPAuthenticator, n int) (*LockingInfoSnapshot, error) {
	l, err := locking.NewSession(a.cs, a.lmeta, auth)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	if n < 0 || n >= len(l.Ranges) {
		return nil, tcgerr.New(tcgerr.KindInvalidArgument, fmt.Sprintf("ssc: band %d out of range (have %d)", n, len(l.Ranges)))
	}
	r := l.Ranges[n]
	snap := &LockingInfoSnapshot{
		ReadLockEnabled:  r.ReadLockEnabled,
		WriteLockEnabled: r.WriteLockEnabled,
		ReadLocked:       r.ReadLocked,
		WriteLocked:      r.WriteLocked,
	}
	if r.Start != locking.LockRangeUnspecified {
		snap.RangeStart = uint64(r.Start)
		snap.RangeLength = uint64(r.End - r.Start)
	}
	return snap, nil
}

// PsidRevert authenticates to the AdminSP with the drive's PSID authority
// and reverts the entire TPer to its factory state. This is the "physical
// presence" emergency unlock path: the PSID is printed on the drive label
// and is not derived from anything the host has stored.
func (a *Adapter) PsidRevert(psidProof []byte) error {
	as, err := a.cs.NewSession(uid.AdminSP)
	if err != nil {
		return fmt.Errorf("ssc: admin session failed: %v", err)
	}
	defer as.Close()
	if err := table.ThisSP_Authenticate(as, uid.AuthorityPSID, psidProof); err != nil {
		return fmt.Errorf("ssc: PSID authentication failed: %v", err)
	}
	return table.RevertTPer(as)
}

// CryptoErase reverts the Locking SP (on Enterprise drives it erases the
// GlobalRange band instead), which for a Self-Encrypting Drive
// destroys the media encryption key and makes all user data
// cryptographically unrecoverable without reprovisioning. Unlike
// PsidRevert, this keeps AdminSP ownership intact.
func (a *Adapter) CryptoErase(auth locking.LockingSPAuthenticator) error {
	l, err := locking.NewSession(a.cs, a.lmeta, auth)
	if err != nil {
		return err
	}
	defer l.Close()
	if a.Kind == KindEnterprise {
		return table.EraseBand(l.Session, uid.InvokingID(uid.LockingGlobalRange))
	}
	return table.RevertLockingSP(l.Session, false)
}
