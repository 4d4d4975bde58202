package sieveengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/migadu/filterd/config"
	"github.com/migadu/filterd/directory"
	"github.com/migadu/filterd/dkim"
	"github.com/migadu/filterd/storage"
)

// ConfigContext carries the externally constructed collaborators the
// adapter resolves references against: lookup tables, duplicate/vacation
// directories, DKIM signers, the script source and an optional compiled
// script cache. It is exclusively owned by the caller for the duration
// of New.
type ConfigContext struct {
	Lookups     map[string]directory.Lookup
	Directories map[string]directory.Directory
	Signers     map[string]*dkim.Signer
	Source      *storage.ScriptSource
	Cache       *ScriptCache
}

// Identity holds the envelope defaults for mail the engine generates
// itself (vacation responses, notifications).
type Identity struct {
	FromAddr   string
	FromName   string
	ReturnPath string
}

// Core is the fully initialized engine configuration: runtime, compiler,
// compiled scripts, resolved collaborators and identity defaults.
// It is built once at startup and not mutated afterwards.
type Core struct {
	Compiler *Compiler
	Runtime  *Runtime
	Scripts  map[string]*Script
	Lookups  map[string]directory.Lookup
	Sign     []*dkim.Signer
	Identity Identity

	// Directory backs duplicate suppression and vacation tracking.
	// Nil when sieve.use_directory is not set.
	Directory directory.Directory
}

// New translates cfg into a ready-to-use engine configuration, resolving
// signer, lookup and directory references against cc. Any unresolved
// reference or script compilation failure is fatal for startup.
func New(ctx context.Context, cfg *config.SieveConfig, serverHostname string, cc *ConfigContext) (*Core, error) {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = serverHostname
	}
	if hostname == "" {
		return nil, fmt.Errorf("no hostname configured: set sieve.hostname or server.hostname")
	}

	var lookupNames []string
	for name := range cc.Lookups {
		lookupNames = append(lookupNames, name)
	}
	sort.Strings(lookupNames)

	runtime := NewRuntime().
		WithoutCapabilities(SystemDisabledCapabilities).
		WithCapability(CapExecute).
		WithValidNotificationURI("mailto").
		WithValidExtLists(lookupNames)
	runtime.SetLocalHostname(hostname)

	if cfg.Limits.Redirects != nil {
		runtime.SetMaxRedirects(*cfg.Limits.Redirects)
	}
	if cfg.Limits.OutMessages != nil {
		runtime.SetMaxOutMessages(*cfg.Limits.OutMessages)
	}
	if cfg.Limits.CPU != nil {
		runtime.SetCPULimit(*cfg.Limits.CPU)
	}
	if cfg.Limits.NestedIncludes != nil {
		runtime.SetMaxNestedIncludes(*cfg.Limits.NestedIncludes)
	}
	if cfg.Limits.ReceivedHeaders != nil {
		runtime.SetMaxReceivedHeaders(*cfg.Limits.ReceivedHeaders)
	}
	duplicateExpiry, err := cfg.Limits.GetDuplicateExpiry()
	if err != nil {
		return nil, err
	}
	if duplicateExpiry != nil {
		runtime.SetDefaultDuplicateExpiry(*duplicateExpiry)
	}

	compiler := NewCompiler(DefaultCompilerLimits(), runtime.Capabilities()).
		WithRuntimeLimits(runtime.Limits())

	if len(cfg.Scripts) > 0 && cc.Source == nil {
		return nil, fmt.Errorf("sieve.scripts configured without a script source")
	}

	scripts := make(map[string]*Script, len(cfg.Scripts))
	scriptNames := make([]string, 0, len(cfg.Scripts))
	for name := range cfg.Scripts {
		scriptNames = append(scriptNames, name)
	}
	sort.Strings(scriptNames)
	for _, name := range scriptNames {
		src, err := cc.Source.Read(ctx, cfg.Scripts[name])
		if err != nil {
			return nil, fmt.Errorf("failed to read sieve script %q from %q: %w", name, cfg.Scripts[name], err)
		}
		var script *Script
		if cc.Cache != nil {
			script, err = cc.Cache.GetOrCompile(compiler, name, src)
		} else {
			script, err = compiler.Compile(name, string(src))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to compile sieve script %q: %w", name, err)
		}
		scripts[name] = script
	}

	signers := make([]*dkim.Signer, 0, len(cfg.Sign))
	for _, id := range cfg.Sign {
		signer, ok := cc.Signers[id]
		if !ok {
			return nil, fmt.Errorf("sieve.sign references unknown signer %q", id)
		}
		signers = append(signers, signer)
	}

	var dir directory.Directory
	if cfg.UseDirectory != "" {
		d, ok := cc.Directories[cfg.UseDirectory]
		if !ok {
			return nil, fmt.Errorf("sieve.use_directory references unknown directory %q", cfg.UseDirectory)
		}
		dir = d
	}

	fromAddr := cfg.FromAddr
	if fromAddr == "" {
		fromAddr = "MAILER-DAEMON@" + hostname
	}
	fromName := cfg.FromName
	if fromName == "" {
		fromName = "Mailer Daemon"
	}

	return &Core{
		Compiler: compiler,
		Runtime:  runtime,
		Scripts:  scripts,
		Lookups:  cc.Lookups,
		Sign:     signers,
		Identity: Identity{
			FromAddr:   fromAddr,
			FromName:   fromName,
			ReturnPath: cfg.ReturnPath,
		},
		Directory: dir,
	}, nil
}
