// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debug

import (
	"bytes"
	"errors"
	"testing"

	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
)

func TestFaultPointString(t *testing.T) {
	testCases := []struct {
		name string
		p    FaultPoint
		want string
	}{
		{"BeforeIfSend", BeforeIfSend, "BeforeIfSend"},
		{"AfterIfSend", AfterIfSend, "AfterIfSend"},
		{"BeforeIfRecv", BeforeIfRecv, "BeforeIfRecv"},
		{"AfterIfRecv", AfterIfRecv, "AfterIfRecv"},
		{"AfterRecvMethod", AfterRecvMethod, "AfterRecvMethod"},
		{"AfterDiscovery", AfterDiscovery, "AfterDiscovery"},
		{"BeforeBuildMethod", BeforeBuildMethod, "BeforeBuildMethod"},
		{"Unknown", FaultPoint(99), "<Unknown>"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.String(); got != tc.want {
				t.Errorf("String() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReturnErrorAction(t *testing.T) {
	wantErr := errors.New("boom")
	act := ReturnError(wantErr)
	payload := []byte("hello")
	got, err := act(payload)
	if err != wantErr {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mutated: got %v, want %v", got, payload)
	}
}

func TestCorruptAction(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03}
	got, err := Corrupt(1, 0xFF)(in)
	if err != nil {
		t.Fatalf("Corrupt: %v", err)
	}
	want := []byte{0x01, 0xFD, 0x03}
	if !bytes.Equal(got, want) {
		t.Errorf("Corrupt() = %v, want %v", got, want)
	}
	if bytes.Equal(in, got) {
		t.Errorf("Corrupt mutated the input slice in place")
	}
}

func TestCorruptActionOutOfRangeOffsetIsNoOp(t *testing.T) {
	in := []byte{0x01, 0x02}
	got, err := Corrupt(5, 0xFF)(in)
	if err != nil {
		t.Fatalf("Corrupt: %v", err)
	}
	if !bytes.Equal(got, in) {
		t.Errorf("Corrupt() = %v, want unchanged %v", got, in)
	}
}

func TestReplaceWithAction(t *testing.T) {
	got, err := ReplaceWith([]byte("substitute"))([]byte("original"))
	if err != nil {
		t.Fatalf("ReplaceWith: %v", err)
	}
	if string(got) != "substitute" {
		t.Errorf("ReplaceWith() = %q, want %q", got, "substitute")
	}
}

func TestFaultBuilder(t *testing.T) {
	wantErr := errors.New("injected")
	f := NewFault("drop-response").At(AfterIfRecv).ReturnError(wantErr).Once().Build()
	if f.Name != "drop-response" {
		t.Errorf("Name = %q, want %q", f.Name, "drop-response")
	}
	if f.Point != AfterIfRecv {
		t.Errorf("Point = %v, want %v", f.Point, AfterIfRecv)
	}
	if f.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", f.Remaining)
	}
	if _, err := f.Action(nil); err != wantErr {
		t.Errorf("Action err = %v, want %v", err, wantErr)
	}
}

func TestFaultBuilderAlways(t *testing.T) {
	f := NewFault("always").At(BeforeIfSend).ReturnError(errors.New("x")).Always().Build()
	if f.Remaining != -1 {
		t.Errorf("Remaining = %d, want -1", f.Remaining)
	}
}

func TestInterceptFiresAtMatchingPointOnly(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	ts := tc.NewSession("t1")
	defer ts.Close()

	wantErr := errors.New("boom")
	ts.Fault(NewFault("f1").At(AfterIfRecv).ReturnError(wantErr).Once().Build())

	// A different point should pass through untouched.
	payload := []byte("data")
	got, err := ts.Intercept(BeforeIfSend, payload)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("Intercept(BeforeIfSend) = %v, %v; want unchanged payload, nil", got, err)
	}

	// The matching point should fire.
	_, err = ts.Intercept(AfterIfRecv, payload)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Intercept(AfterIfRecv) err = %v, want wrapping %v", err, wantErr)
	}
	if tcgerr.Of(err) != tcgerr.KindFaultInjected {
		t.Errorf("tcgerr.Of(err) = %v, want KindFaultInjected", tcgerr.Of(err))
	}
	if ts.Counter("fault:f1") != 1 {
		t.Errorf("Counter(fault:f1) = %d, want 1", ts.Counter("fault:f1"))
	}

	// Once() means it should not fire a second time.
	_, err = ts.Intercept(AfterIfRecv, payload)
	if err != nil {
		t.Errorf("second Intercept(AfterIfRecv) err = %v, want nil (fault exhausted)", err)
	}
	if ts.Counter("fault:f1") != 1 {
		t.Errorf("Counter(fault:f1) after exhaustion = %d, want 1", ts.Counter("fault:f1"))
	}
}

func TestInterceptChainsMultipleFaultsAtSamePoint(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	ts := tc.NewSession("t2")
	defer ts.Close()

	ts.Fault(NewFault("xor-a").At(BeforeIfSend).Corrupt(0, 0x01).Always().Build())
	ts.Fault(NewFault("xor-b").At(BeforeIfSend).Corrupt(0, 0x02).Always().Build())

	got, err := ts.Intercept(BeforeIfSend, []byte{0x00})
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	if got[0] != 0x03 {
		t.Errorf("got[0] = 0x%02x, want 0x03 (both faults applied in order)", got[0])
	}
}

func TestInterceptStopsChainOnError(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	ts := tc.NewSession("t3")
	defer ts.Close()

	wantErr := errors.New("stop here")
	ts.Fault(NewFault("fails").At(BeforeIfSend).ReturnError(wantErr).Always().Build())
	ts.Fault(NewFault("never-runs").At(BeforeIfSend).Corrupt(0, 0xFF).Always().Build())

	if _, err := ts.Intercept(BeforeIfSend, []byte{0x00}); !errors.Is(err, wantErr) {
		t.Fatalf("Intercept err = %v, want wrapping %v", err, wantErr)
	}
	if ts.Counter("fault:never-runs") != 0 {
		t.Errorf("Counter(fault:never-runs) = %d, want 0 (chain should have stopped)", ts.Counter("fault:never-runs"))
	}
}

func TestInterceptOnClosedSessionIsNoOp(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	ts := tc.NewSession("t4")
	ts.Fault(NewFault("f").At(BeforeIfSend).ReturnError(errors.New("x")).Always().Build())
	ts.Close()

	payload := []byte("untouched")
	got, err := ts.Intercept(BeforeIfSend, payload)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Intercept on closed session = %v, %v; want unchanged payload, nil", got, err)
	}
}

func TestInterceptOnNilSessionIsNoOp(t *testing.T) {
	var ts *TestSession
	payload := []byte("passthrough")
	got, err := ts.Intercept(BeforeIfSend, payload)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Intercept on nil session = %v, %v; want unchanged payload, nil", got, err)
	}
}

func TestInterceptNoOpWhenContextDisabled(t *testing.T) {
	tc := NewTestContext()
	ts := tc.NewSession("t4b")
	defer ts.Close()

	ts.Fault(NewFault("f").At(BeforeIfSend).ReturnError(errors.New("x")).Always().Build())

	// tc was never Enable()'d, so the armed fault must never fire.
	payload := []byte("untouched")
	got, err := ts.Intercept(BeforeIfSend, payload)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Intercept on disabled context = %v, %v; want unchanged payload, nil", got, err)
	}
	if ts.Counter("fault:f") != 0 {
		t.Errorf("Counter(fault:f) = %d, want 0 (fault must not fire while disabled)", ts.Counter("fault:f"))
	}
	if len(ts.Trace()) != 0 {
		t.Errorf("len(Trace()) = %d, want 0 (disabled context records no trace)", len(ts.Trace()))
	}

	// Enabling afterward lets the same armed fault fire.
	tc.Enable()
	_, err = ts.Intercept(BeforeIfSend, payload)
	if err == nil {
		t.Fatalf("Intercept after Enable() = nil, want the armed fault to fire")
	}
	if tcgerr.Of(err) != tcgerr.KindFaultInjected {
		t.Errorf("tcgerr.Of(err) = %v, want KindFaultInjected", tcgerr.Of(err))
	}
}

func TestTraceRecordsEveryInterceptCall(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	ts := tc.NewSession("t5")
	defer ts.Close()

	ts.Intercept(BeforeIfSend, []byte{0x00})
	ts.Intercept(AfterIfSend, []byte{0x00})

	trace := ts.Trace()
	if len(trace) != 2 {
		t.Fatalf("len(Trace()) = %d, want 2", len(trace))
	}
	if trace[0].Fault != "none" || trace[0].Result != "ok" {
		t.Errorf("trace[0] = %+v; want Fault=none Result=ok", trace[0])
	}
	if trace[0].Seq >= trace[1].Seq {
		t.Errorf("trace sequence numbers not increasing: %d, %d", trace[0].Seq, trace[1].Seq)
	}
}

func TestTraceRingBufferBounded(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	ts := tc.NewSession("t6")
	defer ts.Close()

	for i := 0; i < defaultTraceCapacity+10; i++ {
		ts.Intercept(BeforeIfSend, []byte{0x00})
	}
	trace := ts.Trace()
	if len(trace) != defaultTraceCapacity {
		t.Errorf("len(Trace()) = %d, want %d (ring buffer should be bounded)", len(trace), defaultTraceCapacity)
	}
}

func TestWorkaroundScoping(t *testing.T) {
	ts := NewTestContext().NewSession("t7")
	defer ts.Close()

	if ts.HasWorkaround(RetryOnSpBusy) {
		t.Errorf("HasWorkaround(RetryOnSpBusy) = true before it was set")
	}
	ts.Workaround(RetryOnSpBusy)
	if !ts.HasWorkaround(RetryOnSpBusy) {
		t.Errorf("HasWorkaround(RetryOnSpBusy) = false after it was set")
	}
	if ts.HasWorkaround(ExtendTimeout) {
		t.Errorf("HasWorkaround(ExtendTimeout) = true, want false (not set)")
	}
}

func TestConfigFallsBackToGlobal(t *testing.T) {
	tc := NewTestContext()
	tc.SetGlobalConfig("retries", 3)
	ts := tc.NewSession("t8")
	defer ts.Close()

	if got := ts.ConfigInt("retries", 0); got != 3 {
		t.Errorf("ConfigInt(retries) = %d, want 3 (from global)", got)
	}
	// A session-local override shadows the global value.
	ts.SetConfig("retries", 7)
	if got := ts.ConfigInt("retries", 0); got != 7 {
		t.Errorf("ConfigInt(retries) = %d, want 7 (session override)", got)
	}
	if got := ts.ConfigBool("missing", true); got != true {
		t.Errorf("ConfigBool(missing) = %v, want default true", got)
	}
	if got := ts.ConfigStr("missing", "def"); got != "def" {
		t.Errorf("ConfigStr(missing) = %q, want %q", got, "def")
	}
	if got := ts.ConfigUint("missing", 5); got != 5 {
		t.Errorf("ConfigUint(missing) = %d, want 5", got)
	}
}

func TestResetClearsGlobalConfigAndDisables(t *testing.T) {
	tc := NewTestContext()
	tc.Enable()
	tc.SetGlobalConfig("k", "v")
	tc.Reset()
	if tc.Enabled() {
		t.Errorf("Enabled() = true after Reset()")
	}
	if _, ok := tc.globalConfig("k"); ok {
		t.Errorf("globalConfig(k) still present after Reset()")
	}
}

func TestInstanceIsASingleton(t *testing.T) {
	a := Instance()
	b := Instance()
	if a != b {
		t.Errorf("Instance() returned different pointers across calls")
	}
}

func TestTestSessionSatisfiesHook(t *testing.T) {
	var h Hook = NewTestContext().NewSession("hook")
	if h == nil {
		t.Fatal("expected non-nil Hook")
	}
}
