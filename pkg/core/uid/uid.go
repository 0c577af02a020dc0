// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uid holds the fixed object, table, authority and method
// identifiers defined by the TCG Storage Architecture Core Specification
// and by the Opal/Pyrite/Enterprise SSCs built on top of it.
package uid

// UID is a general type which all UID shall be based upon.
// Specified in TCG Storage Architecture Core Specification Version 2.01 - Rev 1.0
type UID [8]byte

type RowUID UID

type InvokingID UID

type MethodID UID

type SPID UID

type AuthorityObjectUID UID

type TableUID UID

var (
	InvokeIDNull   = InvokingID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	InvokeIDThisSP = InvokingID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	InvokeIDSMU    = InvokingID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF}
)

// Session Manager methods. These all live on the SMU invoking ID and are
// addressed by method UID, never by InvokingID(table).
var (
	MethodIDSMStartSession = MethodID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x01}
	MethodIDSMSyncSession  = MethodID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x02}
	MethodIDSMCloseSession = MethodID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x03}
	MethodIDSMProperties   = MethodID{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0x01}
)

// Base template object methods, usable against any invoking ID.
var (
	MethodIDGet          = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x16}
	MethodIDSet          = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x17}
	MethodIDNext         = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x08}
	MethodIDAuthenticate = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x0C}
	MethodIDRandom       = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x01, 0x06}
	MethodIDActivate     = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x02, 0x03}
	MethodIDRevert       = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x02, 0x02}
	MethodIDRevertSP     = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x02, 0x11}

	// Core V2.0 "Get"/"Set"/"Authenticate"/"Next"/"Random" method UIDs,
	// addressed using uinteger optional-parameter names.
	OpalGet          = MethodIDGet
	OpalSet          = MethodIDSet
	OpalNext         = MethodIDNext
	OpalAuthenticate = MethodIDAuthenticate
	OpalRandom       = MethodIDRandom
	OpalRevertSP     = MethodIDRevertSP

	// Enterprise SSC uses a distinct set of method UIDs for the same
	// semantic operations, and addresses optional parameters by name
	// rather than by uinteger (see MethodFlagOptionalAsName).
	OpalEnterpriseGet          = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x06}
	OpalEnterpriseSet          = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x07}
	OpalEnterpriseAuthenticate = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x0C}

	MethodIDAdmin_Activate = MethodIDActivate
	MethodIDEraseEnterprise = MethodID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x03, 0x05}
)

// Authorities.
var (
	LockingAuthorityBandMaster0 = AuthorityObjectUID{0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x80, 0x01}
	LockingAuthorityAdmin1      = AuthorityObjectUID{0x00, 0x00, 0x00, 0x09, 0x00, 0x01, 0x00, 0x01}
	AuthorityAnybody            = AuthorityObjectUID{0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x01}
	AuthoritySID                = AuthorityObjectUID{0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x06}
	AuthorityPSID               = AuthorityObjectUID{0x00, 0x00, 0x00, 0x09, 0x00, 0x01, 0xFF, 0x01}
)

// Security Providers.
var (
	AdminSP             = SPID{0x00, 0x00, 0x02, 0x05, 0x00, 0x00, 0x00, 0x01}
	LockingSP           = SPID{0x00, 0x00, 0x02, 0x05, 0x00, 0x00, 0x00, 0x02}
	EnterpriseLockingSP = SPID{0x00, 0x00, 0x02, 0x05, 0x00, 0x01, 0x00, 0x01}
)

// AdminSP rows and tables.
var (
	// Table_Table is the UID of the "Table" table, the catalog of every
	// table defined on an SP. Every other table has a descriptor row in
	// it; use Base_TableRowForTable to address a specific table's row.
	Table_Table = TableUID{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}

	Admin_C_PIN_MSIDRow    = RowUID{0x00, 0x00, 0x00, 0x0B, 0x00, 0x00, 0x84, 0x02}
	Admin_C_PIN_SIDRow     = RowUID{0x00, 0x00, 0x00, 0x0B, 0x00, 0x00, 0x00, 0x01}
	Admin_C_PIN_Admin1Row  = RowUID{0x00, 0x00, 0x00, 0x0B, 0x00, 0x01, 0x00, 0x01}
	Admin_C_Pin_BandMaster0 = RowUID{0x00, 0x00, 0x00, 0x0B, 0x00, 0x00, 0x80, 0x01}
	Admin_C_Pin_EraseMaster = RowUID{0x00, 0x00, 0x00, 0x0B, 0x00, 0x00, 0x84, 0x01}
	Admin_TPerInfoObj      = RowUID{0x00, 0x00, 0x02, 0x01, 0x00, 0x00, 0x00, 0x01}
)

// LockingSP rows and tables.
var (
	GlobalRangeRowUID RowUID = [8]byte{0x00, 0x00, 0x08, 0x02, 0x00, 0x00, 0x00, 0x01}
	LockingGlobalRange       = GlobalRangeRowUID

	Locking_LockingTable   = TableUID{0x00, 0x00, 0x08, 0x02, 0x00, 0x00, 0x00, 0x00}
	Locking_MBRTable       = TableUID{0x00, 0x00, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00}
	Locking_SecretProtect  = TableUID{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x06}
	LockingInfoObj         = RowUID{0x00, 0x00, 0x08, 0x01, 0x00, 0x00, 0x00, 0x01}
	EnterpriseLockingInfoObj = RowUID{0x00, 0x00, 0x08, 0x01, 0x00, 0x00, 0x00, 0x01}
	MBRControlObj          = RowUID{0x00, 0x00, 0x08, 0x03, 0x00, 0x00, 0x00, 0x01}
)

// Base_TableRowForTable returns the row UID of t's descriptor row within
// the "Table" table: the high half identifies Table_Table itself, the low
// half is carried over from t.
func Base_TableRowForTable(t TableUID) RowUID {
	var row RowUID
	copy(row[:4], Table_Table[:4])
	copy(row[4:], t[4:])
	return row
}
