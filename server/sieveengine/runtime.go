package sieveengine

import (
	"sort"
	"time"
)

// RuntimeLimits bounds what an executing script may do. Defaults are the
// engine's own; a subset can be overridden through [sieve.limits].
type RuntimeLimits struct {
	MaxRedirects       int           // Redirect actions per execution
	MaxOutMessages     int           // Generated outbound messages per execution
	CPU                int           // Instruction budget per execution
	MaxNestedIncludes  int           // Include depth
	MaxReceivedHeaders int           // Received headers tolerated before loop suspicion
	DuplicateExpiry    time.Duration // Duplicate-suppression expiry
	MaxVariableSize    int           // Bytes per script variable
	MaxHeaderSize      int           // Bytes per generated header
}

// DefaultRuntimeLimits returns the engine defaults used when a limit has
// no configuration override.
func DefaultRuntimeLimits() RuntimeLimits {
	return RuntimeLimits{
		MaxRedirects:       1,
		MaxOutMessages:     3,
		CPU:                5000,
		MaxNestedIncludes:  3,
		MaxReceivedHeaders: 10,
		DuplicateExpiry:    7 * 24 * time.Hour,
		MaxVariableSize:    102400,
		MaxHeaderSize:      10240,
	}
}

// Runtime holds the execution environment shared by all script
// executions: the capability set, limits, engine identity and the names
// of external lists scripts may reference. It is built once at
// configuration time and not mutated afterwards.
type Runtime struct {
	limits                RuntimeLimits
	capabilities          map[Capability]struct{}
	localHostname         string
	validNotificationURIs []string
	validExtLists         []string
}

// NewRuntime creates a runtime with the full capability catalogue enabled
// and default limits.
func NewRuntime() *Runtime {
	caps := make(map[Capability]struct{}, len(AllCapabilities))
	for _, c := range AllCapabilities {
		caps[c] = struct{}{}
	}
	return &Runtime{
		limits:       DefaultRuntimeLimits(),
		capabilities: caps,
	}
}

// WithoutCapabilities removes the given capabilities.
func (r *Runtime) WithoutCapabilities(caps []Capability) *Runtime {
	for _, c := range caps {
		delete(r.capabilities, c)
	}
	return r
}

// WithCapability re-enables a single capability.
func (r *Runtime) WithCapability(c Capability) *Runtime {
	r.capabilities[c] = struct{}{}
	return r
}

// WithValidNotificationURI allows scripts to notify through the given URI
// scheme.
func (r *Runtime) WithValidNotificationURI(scheme string) *Runtime {
	r.validNotificationURIs = append(r.validNotificationURIs, scheme)
	return r
}

// WithValidExtLists declares the external list names scripts may match
// against.
func (r *Runtime) WithValidExtLists(names []string) *Runtime {
	r.validExtLists = append(r.validExtLists, names...)
	sort.Strings(r.validExtLists)
	return r
}

// HasCapability reports whether c is enabled.
func (r *Runtime) HasCapability(c Capability) bool {
	_, ok := r.capabilities[c]
	return ok
}

// Capabilities returns the enabled capability set, sorted.
func (r *Runtime) Capabilities() []Capability {
	out := make([]Capability, 0, len(r.capabilities))
	for c := range r.capabilities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidExtLists returns the declared external list names.
func (r *Runtime) ValidExtLists() []string {
	return append([]string(nil), r.validExtLists...)
}

// Limits returns the runtime limit set.
func (r *Runtime) Limits() RuntimeLimits { return r.limits }

// LocalHostname returns the engine's local hostname.
func (r *Runtime) LocalHostname() string { return r.localHostname }

func (r *Runtime) SetLocalHostname(hostname string) { r.localHostname = hostname }

func (r *Runtime) SetMaxRedirects(n int) { r.limits.MaxRedirects = n }

func (r *Runtime) SetMaxOutMessages(n int) { r.limits.MaxOutMessages = n }

func (r *Runtime) SetCPULimit(n int) { r.limits.CPU = n }

func (r *Runtime) SetMaxNestedIncludes(n int) { r.limits.MaxNestedIncludes = n }

func (r *Runtime) SetMaxReceivedHeaders(n int) { r.limits.MaxReceivedHeaders = n }

func (r *Runtime) SetDefaultDuplicateExpiry(d time.Duration) { r.limits.DuplicateExpiry = d }
