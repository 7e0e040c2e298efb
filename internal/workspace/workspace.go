// Package workspace is the staged-computation cache shared by all pipeline
// stages: a hierarchically-namespaced store of named artifacts plus an
// atomic per-stage completion guard.
//
// Reads of unset attributes resolve to absence (typed nil / ok=false), never
// an error: the pipeline's optional-input precedence chains are ordered
// conditionals over absent values. Stage functions wrap their body in
// RunStage, which guarantees at-most-once execution even when a stage is
// triggered from several dependents, concurrently or not.
package workspace

import (
	"fmt"
	"log/slog"
	"sync"

	"oxasl/internal/imgdata"
	"oxasl/internal/logging"
	"oxasl/internal/telemetry"
	"oxasl/internal/xfm"
)

type stageState int

const (
	stageUnstarted stageState = iota
	stageRunning
	stageDone
)

type stage struct {
	state stageState
	done  chan struct{}
	err   error
}

// Workspace is one namespace scope. Sub-scopes share the root's stage table
// and mutex; attribute names never collide across scopes.
type Workspace struct {
	Log *slog.Logger

	root *Workspace // nil on the root itself
	path string

	mu     *sync.Mutex
	attrs  map[string]any
	subs   map[string]*Workspace
	stages map[string]*stage // root only
}

func New(log *slog.Logger) *Workspace {
	if log == nil {
		log = slog.Default()
	}
	return &Workspace{
		Log:    log,
		mu:     &sync.Mutex{},
		attrs:  map[string]any{},
		subs:   map[string]*Workspace{},
		stages: map[string]*stage{},
	}
}

// Sub returns the named sub-scope, creating it on first use.
func (w *Workspace) Sub(name string) *Workspace {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.subs[name]; ok {
		return s
	}
	root := w.root
	if root == nil {
		root = w
	}
	path := name
	if w.path != "" {
		path = w.path + "." + name
	}
	s := &Workspace{
		Log:   w.Log.With("scope", path),
		root:  root,
		path:  path,
		mu:    w.mu,
		attrs: map[string]any{},
		subs:  map[string]*Workspace{},
	}
	w.subs[name] = s
	return s
}

// Set writes a named artifact into this scope. Writing an "orig" input over
// itself is the one mutation the pipeline forbids; corrected artifacts must
// be new nodes, so Set refuses to replace a node whose name ends in "_orig".
func (w *Workspace) Set(name string, v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.attrs[name]; exists && len(name) > 5 && name[len(name)-5:] == "_orig" {
		panic(fmt.Sprintf("workspace: attempt to overwrite original input %q", name))
	}
	w.attrs[name] = v
}

// Get returns the named artifact, or nil when absent.
func (w *Workspace) Get(name string) any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attrs[name]
}

// Image returns a volume attribute, nil when absent.
func (w *Workspace) Image(name string) *imgdata.Volume {
	v, _ := w.Get(name).(*imgdata.Volume)
	return v
}

// Affine returns a matrix attribute, nil when absent.
func (w *Workspace) Affine(name string) *xfm.Affine {
	v, _ := w.Get(name).(*xfm.Affine)
	return v
}

// Field returns a warp attribute, nil when absent.
func (w *Workspace) Field(name string) *xfm.Field {
	v, _ := w.Get(name).(*xfm.Field)
	return v
}

// Motion returns a motion matrix set attribute, nil when absent.
func (w *Workspace) Motion(name string) *xfm.MotionSet {
	v, _ := w.Get(name).(*xfm.MotionSet)
	return v
}

// Float returns a scalar attribute.
func (w *Workspace) Float(name string) (float64, bool) {
	v, ok := w.Get(name).(float64)
	return v, ok
}

func (w *Workspace) rootWS() *Workspace {
	if w.root != nil {
		return w.root
	}
	return w
}

// IsDone reports whether the named stage has completed.
func (w *Workspace) IsDone(name string) bool {
	r := w.rootWS()
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := r.stages[name]
	return ok && s.state == stageDone
}

// MarkDone records stage completion directly. Stages written in the
// check-work-mark style use this with IsDone; RunStage is the guarded form.
func (w *Workspace) MarkDone(name string) {
	r := w.rootWS()
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := r.stages[name]
	if !ok {
		s = &stage{done: make(chan struct{})}
		r.stages[name] = s
	}
	if s.state != stageDone {
		s.state = stageDone
		close(s.done)
	}
}

// RunStage executes fn at most once per stage name for the lifetime of the
// workspace. A call after completion is a no-op returning the stored error;
// a call while the stage runs on another goroutine blocks until it finishes
// and shares its outcome.
func (w *Workspace) RunStage(name string, fn func() error) error {
	r := w.rootWS()
	w.mu.Lock()
	s, ok := r.stages[name]
	if !ok {
		s = &stage{done: make(chan struct{})}
		r.stages[name] = s
	}
	switch s.state {
	case stageDone:
		w.mu.Unlock()
		telemetry.StageCached(name)
		return s.err
	case stageRunning:
		w.mu.Unlock()
		telemetry.StageCached(name)
		<-s.done
		return s.err
	}
	s.state = stageRunning
	w.mu.Unlock()

	telemetry.StageRun(name)
	logging.Stage(name).Debug("running stage")
	err := fn()

	w.mu.Lock()
	s.state = stageDone
	s.err = err
	close(s.done)
	w.mu.Unlock()
	return err
}
