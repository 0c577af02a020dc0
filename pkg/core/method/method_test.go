// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Tests implementation of TCG Storage Core Method calling

package method

import (
	"bytes"
	"testing"

	"github.com/drivetrust/tcgstorage/pkg/core/stream"
	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
	"github.com/drivetrust/tcgstorage/pkg/core/uid"
)

func TestNewMethodCallMarshalBinary(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.OpalRandom, 0)
	mc.UInt(32)
	got, err := mc.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	want := bytes.Buffer{}
	want.Write(stream.Token(stream.Call))
	want.Write(stream.Bytes(uid.InvokeIDThisSP[:]))
	want.Write(stream.Bytes(uid.OpalRandom[:]))
	want.Write(stream.Token(stream.StartList))
	want.Write(stream.UInt(32))
	want.Write(stream.Token(stream.EndList))
	want.Write(stream.Token(stream.EndOfData))
	want.Write(stream.Token(stream.StartList))
	want.Write(stream.UInt(MethodStatusSuccess))
	want.Write(stream.UInt(0))
	want.Write(stream.UInt(0))
	want.Write(stream.Token(stream.EndList))

	if !bytes.Equal(got, want.Bytes()) {
		t.Errorf("MarshalBinary() = %x; want %x", got, want.Bytes())
	}
}

func TestMarshalBinaryDoesNotMutateReceiver(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.OpalRandom, 0)
	before := mc.depth
	if _, err := mc.MarshalBinary(); err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if mc.depth != before {
		t.Errorf("MarshalBinary mutated receiver depth: got %d, want %d", mc.depth, before)
	}
	// Calling it twice must produce the same bytes both times.
	got1, _ := mc.MarshalBinary()
	got2, _ := mc.MarshalBinary()
	if !bytes.Equal(got1, got2) {
		t.Errorf("MarshalBinary() not idempotent: %x != %x", got1, got2)
	}
}

func TestStartOptionalParameterUIntVsName(t *testing.T) {
	asUint := NewMethodCall(uid.InvokeIDThisSP, uid.OpalGet, 0)
	asUint.StartOptionalParameter(3, "Foo")
	asUint.UInt(1)
	asUint.EndOptionalParameter()
	gotUint, err := asUint.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Contains(gotUint, stream.UInt(3)) {
		t.Errorf("expected optional parameter encoded as uint id 3, got %x", gotUint)
	}

	asName := NewMethodCall(uid.InvokeIDThisSP, uid.OpalGet, MethodFlagOptionalAsName)
	asName.StartOptionalParameter(3, "Foo")
	asName.UInt(1)
	asName.EndOptionalParameter()
	gotName, err := asName.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Contains(gotName, stream.Bytes([]byte("Foo"))) {
		t.Errorf("expected optional parameter encoded as name %q, got %x", "Foo", gotName)
	}
}

func TestNamedUIntAndNamedBool(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.OpalSet, 0)
	mc.NamedUInt("Enabled", 1)
	mc.NamedBool("ReadLocked", true)
	mc.NamedBool("WriteLocked", false)
	got, err := mc.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	for _, name := range []string{"Enabled", "ReadLocked", "WriteLocked"} {
		if !bytes.Contains(got, stream.Bytes([]byte(name))) {
			t.Errorf("expected %x to contain named value %q", got, name)
		}
	}
}

func TestUnbalancedListReturnsError(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.OpalGet, 0)
	mc.StartOptionalParameter(0, "Unclosed")
	if _, err := mc.MarshalBinary(); err != ErrMethodListUnbalanced {
		t.Errorf("MarshalBinary() err = %v; want ErrMethodListUnbalanced", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	mc := NewMethodCall(uid.InvokeIDThisSP, uid.OpalRandom, 0)
	mc.UInt(1)
	clone := mc.Clone()
	clone.UInt(2)

	got, err := mc.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if bytes.Contains(got, stream.UInt(2)) {
		t.Errorf("mutating clone leaked into original: %x", got)
	}
}

func TestEOSMethodCall(t *testing.T) {
	m := &EOSMethodCall{}
	if !m.IsEOS() {
		t.Errorf("IsEOS() = false; want true")
	}
	got, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if !bytes.Equal(got, stream.Token(stream.EndOfSession)) {
		t.Errorf("MarshalBinary() = %x; want %x", got, stream.Token(stream.EndOfSession))
	}
}

func TestMethodStatusError(t *testing.T) {
	if err := MethodStatusError(0x01); tcgerr.Of(err) != tcgerr.KindMethodStatus {
		t.Errorf("MethodStatusError(0x01) kind = %v; want KindMethodStatus", tcgerr.Of(err))
	}
	// A status code with no entry in MethodStatusCodeMap (reserved range)
	// must still produce a typed error rather than panicking on a map miss.
	if err := MethodStatusError(0x99); tcgerr.Of(err) != tcgerr.KindMethodStatus {
		t.Errorf("MethodStatusError(0x99) kind = %v; want KindMethodStatus", tcgerr.Of(err))
	}
}

func TestMethodStatusSentinelsMatchMap(t *testing.T) {
	cases := []struct {
		name string
		got  error
		code uint
	}{
		{"NotAuthorized", ErrMethodStatusNotAuthorized, 0x01},
		{"SPBusy", ErrMethodStatusSPBusy, 0x03},
		{"NoSessionsAvailable", ErrMethodStatusNoSessionsAvailable, 0x07},
		{"InvalidParameter", ErrMethodStatusInvalidParameter, 0x0C},
		{"AuthorityLockedOut", ErrMethodStatusAuthorityLockedOut, 0x12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != MethodStatusCodeMap[tc.code] {
				t.Errorf("sentinel for 0x%02x does not match MethodStatusCodeMap entry", tc.code)
			}
		})
	}
}
