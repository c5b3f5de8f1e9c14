// Package affinity recommends CPU core sets for worker groups and applies
// them on a best-effort basis.
//
// The first Physical logical core ids form the performance pool and the
// remaining ids the efficiency pool. Roles are mapped to a pool through glob
// rules ("ocr*" -> performance); OptimizeWorkerGroups then splits the pool
// evenly across the requested workers. Pinning never fails a caller: errors
// are logged and the thread simply runs unpinned.
package affinity

import (
	"runtime"
	"slices"
	"sync"

	"github.com/gobwas/glob"

	"github.com/OptikR/OptikR-sub005/errors"
	"github.com/OptikR/OptikR-sub005/internal/cpu"
	"github.com/OptikR/OptikR-sub005/internal/logging"
)

// CoreClass identifies a core pool.
type CoreClass int

const (
	Performance CoreClass = iota
	Efficiency
)

func (c CoreClass) String() string {
	if c == Efficiency {
		return "efficiency"
	}
	return "performance"
}

// ParseCoreClass maps "performance" and "efficiency" to their classes.
func ParseCoreClass(s string) (CoreClass, bool) {
	switch s {
	case "performance", "perf", "p":
		return Performance, true
	case "efficiency", "eff", "e":
		return Efficiency, true
	}
	return Performance, false
}

// Well-known roles of the overlay pipeline.
const (
	RoleCapture     = "capture"
	RoleOCR         = "ocr"
	RoleTranslation = "translation"
	RoleRender      = "render"
	RoleIO          = "io"
)

// DefaultRules maps CPU-bound roles to performance cores and the rest to
// efficiency cores. Rules are matched in order; unmatched roles use
// efficiency cores.
var DefaultRules = []Rule{
	{Pattern: "ocr*", Class: Performance},
	{Pattern: "translat*", Class: Performance},
	{Pattern: "render*", Class: Performance},
	{Pattern: "inference*", Class: Performance},
	{Pattern: "{capture,io,ui,cache,network}*", Class: Efficiency},
}

// Rule assigns roles matching Pattern to a core class.
type Rule struct {
	Pattern string
	Class   CoreClass
}

type compiledRule struct {
	Rule
	g glob.Glob
}

// Pinner restricts the calling OS thread to a set of cores.
type Pinner interface {
	Pin(cores []int) error
}

// OSPinner pins through the operating system.
type OSPinner struct{}

func (OSPinner) Pin(cores []int) error { return cpu.PinCurrentThread(cores) }

// NoopPinner accepts every request and does nothing.
type NoopPinner struct{}

func (NoopPinner) Pin([]int) error { return nil }

// Advisor recommends core sets. It is safe for concurrent use.
type Advisor struct {
	logical     int
	physical    int
	performance []int
	efficiency  []int
	rules       []compiledRule
	pinner      Pinner
	logger      *logging.Logger

	warnOnce sync.Once
}

// Option configures an Advisor.
type Option func(*settings)

type settings struct {
	logical, physical int
	rules             []Rule
	pinner            Pinner
	logger            *logging.Logger
}

// WithTopology overrides the detected core counts.
func WithTopology(logical, physical int) Option {
	return func(s *settings) {
		s.logical = logical
		s.physical = physical
	}
}

// WithRules replaces the role rules.
func WithRules(rules ...Rule) Option {
	return func(s *settings) { s.rules = rules }
}

// WithRule prepends a rule so it takes precedence over the current ones.
func WithRule(pattern string, class CoreClass) Option {
	return func(s *settings) {
		s.rules = append([]Rule{{Pattern: pattern, Class: class}}, s.rules...)
	}
}

// WithPinner replaces the OS pinner, e.g. with NoopPinner.
func WithPinner(p Pinner) Option {
	return func(s *settings) { s.pinner = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// NewAdvisor detects the topology and compiles the role rules.
func NewAdvisor(opts ...Option) (*Advisor, error) {
	info := cpu.Topology()
	s := settings{
		logical:  info.Logical,
		physical: info.Physical,
		rules:    slices.Clone(DefaultRules),
		pinner:   OSPinner{},
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	if s.logical < 1 {
		return nil, errors.NewConfigError("affinity", "logical_cores", s.logical, "must be positive")
	}
	if s.physical < 1 || s.physical > s.logical {
		s.physical = s.logical
	}

	a := &Advisor{
		logical:  s.logical,
		physical: s.physical,
		pinner:   s.pinner,
		logger:   s.logger.WithComponent("affinity"),
	}
	for i := range s.logical {
		if i < s.physical {
			a.performance = append(a.performance, i)
		} else {
			a.efficiency = append(a.efficiency, i)
		}
	}
	for _, r := range s.rules {
		g, err := glob.Compile(r.Pattern)
		if err != nil {
			return nil, errors.NewConfigError("affinity", "rules", r.Pattern, err.Error())
		}
		a.rules = append(a.rules, compiledRule{Rule: r, g: g})
	}
	return a, nil
}

// LogicalCores returns the logical core count.
func (a *Advisor) LogicalCores() int { return a.logical }

// PhysicalCores returns the physical core count.
func (a *Advisor) PhysicalCores() int { return a.physical }

// PerformanceCores returns the performance pool ids.
func (a *Advisor) PerformanceCores() []int { return slices.Clone(a.performance) }

// EfficiencyCores returns the efficiency pool ids; empty without SMT.
func (a *Advisor) EfficiencyCores() []int { return slices.Clone(a.efficiency) }

// ClassFor returns the core class role maps to.
func (a *Advisor) ClassFor(role string) CoreClass {
	for _, r := range a.rules {
		if r.g.Match(role) {
			return r.Class
		}
	}
	return Efficiency
}

// CoresFor returns the pool for role. The efficiency class falls back to the
// performance pool when no efficiency cores exist.
func (a *Advisor) CoresFor(role string) []int {
	if a.ClassFor(role) == Efficiency && len(a.efficiency) > 0 {
		return slices.Clone(a.efficiency)
	}
	return slices.Clone(a.performance)
}

// OptimizeWorkerGroups splits the role's pool evenly into numWorkers core
// sets. With more workers than cores, workers share single cores
// round-robin.
func (a *Advisor) OptimizeWorkerGroups(role string, numWorkers int) [][]int {
	if numWorkers <= 0 {
		return nil
	}
	cores := a.CoresFor(role)
	groups := make([][]int, numWorkers)

	if numWorkers > len(cores) {
		for i := range groups {
			groups[i] = []int{cores[i%len(cores)]}
		}
		return groups
	}

	base, extra := len(cores)/numWorkers, len(cores)%numWorkers
	next := 0
	for i := range groups {
		n := base
		if i < extra {
			n++
		}
		groups[i] = slices.Clone(cores[next : next+n])
		next += n
	}
	return groups
}

// Pin locks the calling goroutine to its OS thread and restricts that thread
// to cores. The returned function unlocks the thread and must be called by
// the same goroutine. Pinning errors are logged once and otherwise ignored.
func (a *Advisor) Pin(cores []int) func() {
	runtime.LockOSThread()
	if err := a.pinner.Pin(cores); err != nil {
		a.warnOnce.Do(func() {
			a.logger.Warn("affinity: pinning unavailable, running unpinned", "cores", cores, "error", err)
		})
	}
	return runtime.UnlockOSThread
}
