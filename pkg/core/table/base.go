// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Implements TCG Storage Core Table operations against the Base template
// tables (Table and MethodID), shared by every SP.

package table

import (
	"github.com/drivetrust/tcgstorage/pkg/core"
	"github.com/drivetrust/tcgstorage/pkg/core/method"
	"github.com/drivetrust/tcgstorage/pkg/core/uid"
)

var (
	Base_MethodIDTable = uid.TableUID{0x00, 0x00, 0x00, 0x06, 0x00, 0x00, 0x00, 0x00}
)

// Base_Method_IsSupported reports whether the given method is listed in the
// MethodID table, i.e. the SP recognizes it at all. This does not imply the
// currently authenticated session is permitted to invoke it.
func Base_Method_IsSupported(s *core.Session, m uid.MethodID) bool {
	row := uid.RowUID(m)
	_, err := GetCell(s, row, Table_ColumnUID, "UID")
	return err == nil
}

// Base_Table_IsSupported reports whether the given table is listed in the
// Table table.
func Base_Table_IsSupported(s *core.Session, t uid.TableUID) bool {
	row := Base_TableRowForTable(t)
	mc := method.NewMethodCall(uid.InvokingID(row), uid.OpalGet, s.MethodFlags)
	mc.StartList()
	mc.EndList()
	_, err := s.ExecuteMethod(mc)
	return err == nil
}
