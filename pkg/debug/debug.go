// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debug implements the test-context and fault-injection layer used
// to drive the session engine and ComPacket framer through failure paths
// that are otherwise only reachable against real, flaky hardware: dropped
// responses, SP_BUSY storms, corrupted wire data, and the workarounds a
// caller can ask the library to apply for them.
//
// The shape of this package mirrors the evaluation harness used to exercise
// a TPer session by hand (TestContext singleton, chainable fault builder,
// scoped TestSession, counters and a bounded trace ring buffer) translated
// into idiomatic Go: there is no destructor, so scoping is explicit via
// Close() instead of RAII.
package debug

import (
	"fmt"
	"sync"

	"github.com/drivetrust/tcgstorage/pkg/core/tcgerr"
)

// FaultPoint identifies a location in the session/communication pipeline
// where a fault can be injected.
type FaultPoint int

const (
	BeforeIfSend FaultPoint = iota
	AfterIfSend
	BeforeIfRecv
	AfterIfRecv
	AfterRecvMethod
	AfterDiscovery
	BeforeBuildMethod
)

func (p FaultPoint) String() string {
	switch p {
	case BeforeIfSend:
		return "BeforeIfSend"
	case AfterIfSend:
		return "AfterIfSend"
	case BeforeIfRecv:
		return "BeforeIfRecv"
	case AfterIfRecv:
		return "AfterIfRecv"
	case AfterRecvMethod:
		return "AfterRecvMethod"
	case AfterDiscovery:
		return "AfterDiscovery"
	case BeforeBuildMethod:
		return "BeforeBuildMethod"
	default:
		return "<Unknown>"
	}
}

// Action mutates (or rejects) a payload flowing through a fault point.
// Returning a non-nil error short-circuits the caller's operation;
// returning a modified slice substitutes it for the original payload.
type Action func(payload []byte) ([]byte, error)

// ReturnError makes a fault unconditionally fail the operation at its point.
func ReturnError(err error) Action {
	return func(payload []byte) ([]byte, error) {
		return payload, err
	}
}

// Corrupt XORs a single byte at offset in the payload, grounded on the
// corrupt-SyncSession-response scenario: a single flipped byte inside an
// otherwise well-formed ComPacket should surface as a decode error, not a
// silent misparse.
func Corrupt(offset int, xorByte byte) Action {
	return func(payload []byte) ([]byte, error) {
		if offset < 0 || offset >= len(payload) {
			return payload, nil
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		out[offset] ^= xorByte
		return out, nil
	}
}

// ReplaceWith substitutes the payload outright.
func ReplaceWith(b []byte) Action {
	return func(payload []byte) ([]byte, error) {
		return b, nil
	}
}

// Callback hands the payload to an arbitrary function, for scenarios the
// builtin actions cannot express.
func Callback(fn func([]byte) ([]byte, error)) Action {
	return fn
}

// Fault is a single armed interception: fire Action at Point, Remaining
// times (-1 means unlimited).
type Fault struct {
	Name      string
	Point     FaultPoint
	Action    Action
	Remaining int
}

// FaultBuilder assembles a Fault via chained calls, mirroring the
// evaluation harness's FaultBuilder("name").at(Point).returnError(...).once()
// pattern.
type FaultBuilder struct {
	f Fault
}

func NewFault(name string) *FaultBuilder {
	return &FaultBuilder{f: Fault{Name: name, Remaining: -1}}
}

func (b *FaultBuilder) At(p FaultPoint) *FaultBuilder {
	b.f.Point = p
	return b
}

func (b *FaultBuilder) ReturnError(err error) *FaultBuilder {
	b.f.Action = ReturnError(err)
	return b
}

func (b *FaultBuilder) Corrupt(offset int, xorByte byte) *FaultBuilder {
	b.f.Action = Corrupt(offset, xorByte)
	return b
}

func (b *FaultBuilder) ReplaceWith(payload []byte) *FaultBuilder {
	b.f.Action = ReplaceWith(payload)
	return b
}

func (b *FaultBuilder) Callback(fn func([]byte) ([]byte, error)) *FaultBuilder {
	b.f.Action = Callback(fn)
	return b
}

func (b *FaultBuilder) Times(n int) *FaultBuilder {
	b.f.Remaining = n
	return b
}

func (b *FaultBuilder) Once() *FaultBuilder {
	return b.Times(1)
}

func (b *FaultBuilder) Always() *FaultBuilder {
	return b.Times(-1)
}

func (b *FaultBuilder) Build() *Fault {
	f := b.f
	return &f
}

// Workaround is a named behavior change the session engine applies when
// asked to, so that flaky or noncompliant TPers can still be driven
// reliably.
type Workaround int

const (
	RetryOnSpBusy Workaround = iota
	ExtendTimeout
	SkipRevertConfirm
)

// ConfigValue is a loosely typed configuration entry, read back via the
// Int/Bool/Str/Uint accessors with a caller-supplied default.
type ConfigValue interface{}

// TraceEntry records one interception for post-mortem inspection.
type TraceEntry struct {
	Seq    int64
	Point  FaultPoint
	Fault  string
	Result string
}

const defaultTraceCapacity = 256

// TestContext is the root of the fault-injection/test-configuration layer.
// A process normally uses the shared Instance(), but independent contexts
// can be constructed for isolated test runs.
type TestContext struct {
	mu      sync.Mutex
	enabled bool
	global  map[string]ConfigValue
	seq     int64
}

var (
	instanceOnce sync.Once
	instance     *TestContext
)

// Instance returns the process-wide TestContext, lazily constructed.
func Instance() *TestContext {
	instanceOnce.Do(func() {
		instance = NewTestContext()
	})
	return instance
}

func NewTestContext() *TestContext {
	return &TestContext{global: map[string]ConfigValue{}}
}

func (tc *TestContext) Enable() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.enabled = true
}

func (tc *TestContext) Disable() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.enabled = false
}

func (tc *TestContext) Enabled() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.enabled
}

// Reset clears all global configuration and disables the context. It does
// not affect already-constructed TestSessions.
func (tc *TestContext) Reset() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.enabled = false
	tc.global = map[string]ConfigValue{}
}

func (tc *TestContext) SetGlobalConfig(key string, val ConfigValue) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.global[key] = val
}

func (tc *TestContext) globalConfig(key string) (ConfigValue, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	v, ok := tc.global[key]
	return v, ok
}

// NewSession creates a scoped TestSession under this context, named for
// whatever the caller is about to exercise (e.g. a session or a test case).
func (tc *TestContext) NewSession(name string) *TestSession {
	return &TestSession{
		ctx:      tc,
		name:     name,
		config:   map[string]ConfigValue{},
		counters: map[string]int64{},
		trace:    make([]TraceEntry, 0, defaultTraceCapacity),
	}
}

// TestSession is a scoped lifetime for faults, workarounds, local config
// overrides, counters and a trace ring buffer. Call Close when done with it;
// Go has no destructors, so this stands in for the evaluation harness's
// RAII-scoped TestSession.
type TestSession struct {
	ctx    *TestContext
	name   string
	mu     sync.Mutex
	faults []*Fault

	workarounds map[Workaround]bool
	config      map[string]ConfigValue
	counters    map[string]int64
	trace       []TraceEntry
	closed      bool
}

func (ts *TestSession) Name() string { return ts.name }

// Fault registers a fault, returning the session for chaining multiple
// registrations.
func (ts *TestSession) Fault(f *Fault) *TestSession {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.faults = append(ts.faults, f)
	return ts
}

func (ts *TestSession) Workaround(w Workaround) *TestSession {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.workarounds == nil {
		ts.workarounds = map[Workaround]bool{}
	}
	ts.workarounds[w] = true
	return ts
}

func (ts *TestSession) HasWorkaround(w Workaround) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.workarounds[w]
}

func (ts *TestSession) SetConfig(key string, val ConfigValue) *TestSession {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.config[key] = val
	return ts
}

func (ts *TestSession) config_(key string) (ConfigValue, bool) {
	ts.mu.Lock()
	if v, ok := ts.config[key]; ok {
		ts.mu.Unlock()
		return v, true
	}
	ts.mu.Unlock()
	return ts.ctx.globalConfig(key)
}

func (ts *TestSession) ConfigInt(key string, def int) int {
	if v, ok := ts.config_(key); ok {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return def
}

func (ts *TestSession) ConfigUint(key string, def uint) uint {
	if v, ok := ts.config_(key); ok {
		if i, ok := v.(uint); ok {
			return i
		}
	}
	return def
}

func (ts *TestSession) ConfigBool(key string, def bool) bool {
	if v, ok := ts.config_(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (ts *TestSession) ConfigStr(key string, def string) string {
	if v, ok := ts.config_(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Counter returns the current value of a named counter, or zero if it has
// never been incremented.
func (ts *TestSession) Counter(name string) int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.counters[name]
}

func (ts *TestSession) incCounter(name string) {
	ts.counters[name]++
}

// Trace returns a snapshot of the recorded interceptions, oldest first.
func (ts *TestSession) Trace() []TraceEntry {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]TraceEntry, len(ts.trace))
	copy(out, ts.trace)
	return out
}

// Intercept runs every registered, still-armed fault for point against
// payload in registration order, recording a trace entry regardless of
// whether any fault fired. The first fault to return an error stops the
// chain; otherwise the (possibly rewritten) payload is threaded through
// subsequent faults at the same point.
func (ts *TestSession) Intercept(point FaultPoint, payload []byte) ([]byte, error) {
	if ts == nil {
		return payload, nil
	}
	if !ts.ctx.Enabled() {
		return payload, nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed {
		return payload, nil
	}
	fired := "none"
	cur := payload
	var err error
	for _, f := range ts.faults {
		if f.Point != point || f.Remaining == 0 {
			continue
		}
		cur, err = f.Action(cur)
		if f.Remaining > 0 {
			f.Remaining--
		}
		fired = f.Name
		ts.counters["fault:"+f.Name]++
		ts.counters["point:"+point.String()]++
		if err != nil {
			err = tcgerr.Wrap(tcgerr.KindFaultInjected, fmt.Sprintf("fault %q fired at %s", f.Name, point), err)
			break
		}
	}
	ts.seqTrace(point, fired, err)
	return cur, err
}

func (ts *TestSession) seqTrace(point FaultPoint, fired string, err error) {
	ts.ctx.mu.Lock()
	ts.ctx.seq++
	seq := ts.ctx.seq
	ts.ctx.mu.Unlock()

	result := "ok"
	if err != nil {
		result = err.Error()
	}
	entry := TraceEntry{Seq: seq, Point: point, Fault: fired, Result: result}
	if len(ts.trace) >= defaultTraceCapacity {
		ts.trace = ts.trace[1:]
	}
	ts.trace = append(ts.trace, entry)
}

// Close marks the session closed; further Intercept calls become no-ops.
// Faults, counters and trace remain readable after Close for assertions.
func (ts *TestSession) Close() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closed = true
	return nil
}

// Hook is the narrow surface the core packages depend on, satisfied by
// *TestSession. Kept separate so callers that never touch the debug layer
// do not need to import it beyond this interface.
type Hook interface {
	Intercept(point FaultPoint, payload []byte) ([]byte, error)
	HasWorkaround(w Workaround) bool
	ConfigInt(key string, def int) int
	ConfigUint(key string, def uint) uint
	ConfigBool(key string, def bool) bool
}

var _ Hook = (*TestSession)(nil)

func (ts *TestSession) String() string {
	return fmt.Sprintf("TestSession(%s)", ts.name)
}
