package sieveengine

import (
	"fmt"
	"strings"

	"github.com/migadu/go-sieve"
	"github.com/migadu/filterd/pkg/metrics"
)

// DefaultMaxScriptSize is the maximum script size accepted by the
// compiler.
const DefaultMaxScriptSize = 16 * 1024 // 16 KB

// CompilerLimits caps the size and nesting of scripts the compiler
// accepts. These are fixed at engine construction; there is no
// configuration override point for them.
type CompilerLimits struct {
	MaxScriptSize         int64
	MaxStringSize         int
	MaxVariableNameSize   int
	MaxNestedBlocks       int
	MaxNestedTests        int
	MaxNestedForEveryPart int
	MaxLocalVariables     int
	MaxHeaderSize         int
	MaxIncludes           int
}

// DefaultCompilerLimits returns the stock compiler limits.
func DefaultCompilerLimits() CompilerLimits {
	return CompilerLimits{
		MaxScriptSize:         DefaultMaxScriptSize,
		MaxStringSize:         10240,
		MaxVariableNameSize:   100,
		MaxNestedBlocks:       50,
		MaxNestedTests:        50,
		MaxNestedForEveryPart: 10,
		MaxLocalVariables:     128,
		MaxHeaderSize:         10240,
		MaxIncludes:           10,
	}
}

// Script is a compiled Sieve script, owned by the caller after
// compilation.
type Script struct {
	Name   string
	Source string

	program *sieve.Script
}

// Compiler turns script sources into compiled Script objects.
type Compiler struct {
	limits     CompilerLimits
	runtime    RuntimeLimits
	extensions []string
}

// NewCompiler creates a compiler restricted to the given limits and
// capability set. Runtime limits embedded into compiled scripts
// (variable sizes, redirects) start at the engine defaults; use
// WithRuntimeLimits to carry configured overrides.
func NewCompiler(limits CompilerLimits, capabilities []Capability) *Compiler {
	var extensions []string
	for _, c := range capabilities {
		if _, ok := compilableExtensions[c]; ok {
			extensions = append(extensions, string(c))
		}
	}
	return &Compiler{limits: limits, runtime: DefaultRuntimeLimits(), extensions: extensions}
}

// WithRuntimeLimits sets the runtime limits compiled into scripts.
func (c *Compiler) WithRuntimeLimits(limits RuntimeLimits) *Compiler {
	c.runtime = limits
	return c
}

// Limits returns the compiler's limit set.
func (c *Compiler) Limits() CompilerLimits { return c.limits }

// Extensions returns the extension names scripts may require.
func (c *Compiler) Extensions() []string {
	return append([]string(nil), c.extensions...)
}

// Compile parses and validates src into a Script named name.
func (c *Compiler) Compile(name, src string) (*Script, error) {
	if c.limits.MaxScriptSize > 0 && int64(len(src)) > c.limits.MaxScriptSize {
		metrics.ScriptCompilations.WithLabelValues("failure").Inc()
		return nil, fmt.Errorf("script size %d exceeds maximum allowed size %d", len(src), c.limits.MaxScriptSize)
	}

	options := sieve.DefaultOptions()
	options.Parser.MaxBlockNesting = c.limits.MaxNestedBlocks
	options.Parser.MaxTestNesting = c.limits.MaxNestedTests
	options.Interp.MaxVariableNameLen = c.limits.MaxVariableNameSize
	options.Interp.MaxVariableCount = c.limits.MaxLocalVariables
	options.Interp.MaxVariableLen = c.runtime.MaxVariableSize
	options.Interp.MaxRedirects = c.runtime.MaxRedirects
	// If no extensions are configured, none are supported.
	options.EnabledExtensions = c.extensions
	program, err := sieve.Load(strings.NewReader(src), options)
	if err != nil {
		metrics.ScriptCompilations.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.ScriptCompilations.WithLabelValues("success").Inc()
	return &Script{Name: name, Source: src, program: program}, nil
}
