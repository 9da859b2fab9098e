// Package initcall implements the staged init-call graph: descriptors collected once from a build-time section
// plus a runtime registry, executed in five ordered stages.
//
// A real freestanding kernel collects the static half from a linker
// section bounded by __start_initcalls/__stop_initcalls; since this Go
// port has no linker-section equivalent, the static half is instead
// populated by an explicit package-level registration call
// (Register), invoked from each subsystem's init() the way Go
// programs conventionally self-register (database/sql drivers,
// image.RegisterFormat) — the closest idiomatic Go analogue to a
// link-time-collected section, and a generalization of a single
// hand-written boot sequence into an explicit staged graph.
package initcall

import (
	"fmt"
	"sync"

	"github.com/astra-os/xkernel/internal/klog"
)

// Stage orders initializer execution.
type Stage int

const (
	StageEarly Stage = iota
	StageCore
	StageSubsys
	StageDriver
	StageLate
)

func (s Stage) String() string {
	switch s {
	case StageEarly:
		return "EARLY"
	case StageCore:
		return "CORE"
	case StageSubsys:
		return "SUBSYS"
	case StageDriver:
		return "DRIVER"
	case StageLate:
		return "LATE"
	default:
		return "UNKNOWN"
	}
}

var stageOrder = [...]Stage{StageEarly, StageCore, StageSubsys, StageDriver, StageLate}

// Fn is an initializer. Its return value is logged but never aborts
// subsequent descriptors.
type Fn func() error

// Descriptor is one collected initializer.
type Descriptor struct {
	Stage Stage
	Name  string
	Fn    Fn

	ran  bool
	code error
}

// Graph is the process-wide, single-init-many-mutation registry of
// descriptors. The zero value is usable.
type Graph struct {
	mu    sync.Mutex
	descs []*Descriptor
}

// Default is the process-wide graph subsystems register against via
// Register during package init().
var Default = &Graph{}

// Register appends a descriptor to the graph, collection order preserved.
// Called both by the static ("section") registrations at package-init time
// and by anything added later through the dynamic registry —
// draws no behavioral distinction between the two once collected.
func (g *Graph) Register(d Descriptor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := d
	g.descs = append(g.descs, &cp)
}

// Register adds a descriptor to the default graph.
func Register(stage Stage, name string, fn Fn) {
	Default.Register(Descriptor{Stage: stage, Name: name, Fn: fn})
}

// RunAll executes every collected descriptor exactly once, in stage order
// (EARLY -> CORE -> SUBSYS -> DRIVER -> LATE) and collection order within
// a stage. Calling RunAll again executes no additional callbacks — the
// idempotence law requires.
func (g *Graph) RunAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, stage := range stageOrder {
		for _, d := range g.descs {
			if d.Stage != stage || d.ran {
				continue
			}
			d.ran = true
			d.code = d.Fn()
			if d.code != nil {
				klog.Warnf("initcall: %s/%s returned error: %v", d.Stage, d.Name, d.code)
			} else {
				klog.Debugf("initcall: %s/%s ok", d.Stage, d.Name)
			}
		}
	}
}

// RunAll executes the default graph.
func RunAll() { Default.RunAll() }

// Results returns a snapshot of {name, stage, ran, error} for diagnostics
// and tests.
func (g *Graph) Results() []Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Result, len(g.descs))
	for i, d := range g.descs {
		out[i] = Result{Stage: d.Stage, Name: d.Name, Ran: d.ran, Err: d.code}
	}
	return out
}

// Result is a read-only view of a descriptor's execution state.
type Result struct {
	Stage Stage
	Name  string
	Ran   bool
	Err   error
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s/%s: error: %v", r.Stage, r.Name, r.Err)
	}
	return fmt.Sprintf("%s/%s: ok", r.Stage, r.Name)
}
