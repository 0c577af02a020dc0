// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Tests implementation of TCG Storage Core Data Stream

package stream

import (
	"bytes"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
)

func TestTokenType_String(t *testing.T) {
	testCases := []struct {
		name string
		t    TokenType
		want string
	}{
		{"StartList", StartList, "StartList"},
		{"EndList", EndList, "EndList"},
		{"StartName", StartName, "StartName"},
		{"EndName", EndName, "EndName"},
		{"Call", Call, "Call"},
		{"EndOfData", EndOfData, "EndOfData"},
		{"EndOfSession", EndOfSession, "EndOfSession"},
		{"StartTransaction", StartTransaction, "StartTransaction"},
		{"EndTransaction", EndTransaction, "EndTransaction"},
		{"EmptyAtom", EmptyAtom, "EmptyAtom"},
		{"Unknown", 0, "<Unknown>"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.t.String(); got != tc.want {
				t.Errorf("String() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUInt(t *testing.T) {
	testCases := []struct {
		name string
		data uint
		want []byte
	}{
		{"32", 32, []byte{uint8(32)}},
		{"32768", 32768, []byte{0x82, 0x80, 0x00}},
		{"131072", 131072, []byte{0x84, 0x00, 0x02, 0x00, 0x00}},
		{"1<<40", 1 << 40, []byte{0x88, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := UInt(tc.data)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("UInt(%v) = %v; want %v", tc.data, got, tc.want)
			}
		})
	}
}

func TestBytes(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want string
	}{
		{"Null", "", "A0"},
		{"Tiny byte", "2F", "A1 2F"}, // 3.2.2.3.1 Simple Tokens – Atoms Overview ("Tiny atoms only represent integers")
		{"Short byte", "8F", "A1 8F"},
		{"8 bytes", "01 02 03 04 05 06 07 08", "A8 01 02 03 04 05 06 07 08"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := hex.DecodeString(strings.ReplaceAll(tc.data, " ", ""))
			want, _ := hex.DecodeString(strings.ReplaceAll(tc.want, " ", ""))
			if got := Bytes(in); !bytes.Equal(got, want) {
				t.Errorf("In(%+v) = %+v; want %+v", in, got, want)
			}
		})
	}
}

func TestBytesRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 15, 16, 200, 2047, 2048, 5000}
	for _, n := range sizes {
		b := bytes.Repeat([]byte{0xAB}, n)
		enc := Bytes(b)
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("size %d: Decode: %v", n, err)
		}
		if len(got) != 1 {
			t.Fatalf("size %d: decoded list length = %d, want 1", n, len(got))
		}
		gb, ok := got[0].([]byte)
		if !ok || !bytes.Equal(gb, b) {
			t.Fatalf("size %d: round trip mismatch", n)
		}
	}
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want List
		err  error
	}{
		{"Null", "A0", List{[]byte{}}, nil},
		{"Call", "F8", List{Call}, nil},
		{"Tiny byte", "A1 2F", List{[]byte{0x2f}}, nil},
		{"Tiny uint", "2F", List{uint(0x2f)}, nil},
		{"Short byte", "A1 8F", List{[]byte{0x8f}}, nil},
		{"Short uint", "81 8F", List{uint(0x8f)}, nil},
		{"8 bytes", "A8 01 02 03 04 05 06 07 08", List{[]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}}, nil},
		{"16 bytes", "D0 10 01 02 03 04 05 06 07 08 01 02 03 04 05 06 07 08",
			List{[]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}}, nil},
		{"Long byte", "E2 00 00 04 01 02 03 04", List{[]byte{0x01, 0x02, 0x03, 0x04}}, nil},
		{"Medium uint", "C0 02 01 02", List{uint(0x0102)}, nil},
		{"Long uint", "E0 00 00 02 01 02", List{uint(0x0102)}, nil},
		{"EmptyAtom", "FF", List{}, nil},
		{"Truncated short atom", "A2 01", nil, tcgerr.New(tcgerr.KindTokenTruncated, "")},
		{"Truncated medium header", "C0", nil, tcgerr.New(tcgerr.KindTokenTruncated, "")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := hex.DecodeString(strings.ReplaceAll(tc.data, " ", ""))
			got, err := Decode(in)
			if tc.err != nil {
				if tcgerr.Of(err) != tcgerr.Of(tc.err) {
					t.Errorf("In(%+v) err = %+v; want kind %v", in, err, tcgerr.Of(tc.err))
				}
				return
			}
			if !reflect.DeepEqual(got, tc.want) || err != nil {
				t.Errorf("In(%+v) = %+v, %+v; want %+v, nil", in, got, err, tc.want)
			}
		})
	}
}

func TestDecodeLists(t *testing.T) {
	testCases := []struct {
		name string
		data string
		want List
		err  error
	}{
		{"Bad list", "F1", nil, ErrUnbalancedList},
		{"Empty list", "F0 F1", List{List{}}, nil},
		{"One element", "F0 F8 F1", List{List{Call}}, nil},
		{"Two nested element", "F0 F0 F8 F8 F1 F1", List{List{List{Call, Call}}}, nil},
		{"Unterminated nested list", "F0 F0 F8", nil, ErrUnbalancedList},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in, _ := hex.DecodeString(strings.ReplaceAll(tc.data, " ", ""))
			got, err := Decode(in)
			if tc.err != nil {
				if !errors.Is(err, tc.err) && tcgerr.Of(err) != tcgerr.KindTokenInvalidEncoding {
					t.Errorf("In(%+v) err = %+v; want an unbalanced-list error", in, err)
				}
				return
			}
			if !reflect.DeepEqual(got, tc.want) || err != nil {
				t.Errorf("In(%+v) = %+v, %+v; want %+v, nil", in, got, err, tc.want)
			}
		})
	}
}

func TestEqualBytes(t *testing.T) {
	TestCases := []struct {
		name string
		data interface{}
		comp []byte
		want bool
	}{
		{"Equal byte slices", []byte{1, 2, 3}, []byte{1, 2, 3}, true},
		{"Different byte slices", []byte{1, 2, 3}, []byte{4, 5, 6}, false},
		{"Special nil case", []byte{}, []byte{}, true},
		{"Unrelated type", "not bytes", []byte{1, 2, 3}, false},
		{"Nil input", nil, []byte{1, 2, 3}, false},
	}

	for _, tc := range TestCases {
		t.Run(tc.name, func(t *testing.T) {
			result := EqualBytes(tc.data, tc.comp)
			if result != tc.want {
				t.Errorf("EqualBytes(%v, %v) = %v; want %v", tc.data, tc.comp, result, tc.want)
			}
		})
	}
}

func TestEqualToken(t *testing.T) {
	TestCases := []struct {
		name string
		data interface{}
		comp TokenType
		want bool
	}{
		{"Equal TokenType values", StartList, StartList, true},
		{"Different TokenType values", StartList, EndList, false},
		{"Equal byte slice representation", Token(StartList), StartList, true},
		{"Mismatched byte slice", []byte{0}, StartList, false},
		{"Invalid byte slice length", []byte{0xF0, 0}, StartList, false},
		{"Unrelated type", "StartList", StartList, false},
		{"Nil input", nil, StartList, false},
	}

	for _, tc := range TestCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EqualToken(tc.data, tc.comp)
			if got != tc.want {
				t.Errorf("EqualToken(%v, %v) = %v; want %v", tc.data, tc.comp, got, tc.want)
			}
		})
	}
}

func TestEqualUInt(t *testing.T) {
	testCases := []struct {
		name string
		data interface{}
		comp uint
		want bool
	}{
		{"Equal uint values", uint(42), 42, true},
		{"Different uint values", uint(42), 0, false},
		{"Not a uint (int type)", int(42), 42, false},
		{"Input is nil", nil, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := EqualUInt(tc.data, tc.comp)
			if got != tc.want {
				t.Errorf("EqualUInt(%v, %v) = %v; want %v", tc.data, tc.comp, got, tc.want)
			}
		})
	}
}
