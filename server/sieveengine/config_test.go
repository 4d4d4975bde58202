package sieveengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/migadu/filterd/config"
	"github.com/migadu/filterd/directory"
	"github.com/migadu/filterd/dkim"
	"github.com/migadu/filterd/storage"
)

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func testContext(t *testing.T) *ConfigContext {
	t.Helper()
	source, err := storage.New(nil)
	require.NoError(t, err)
	return &ConfigContext{
		Lookups:     map[string]directory.Lookup{},
		Directories: map[string]directory.Directory{},
		Signers:     map[string]*dkim.Signer{},
		Source:      source,
	}
}

func TestNewHostnameFallback(t *testing.T) {
	cfg := &config.SieveConfig{}
	core, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	assert.Equal(t, "mx1.example.com", core.Runtime.LocalHostname())
	assert.Equal(t, "MAILER-DAEMON@mx1.example.com", core.Identity.FromAddr)
	assert.Equal(t, "Mailer Daemon", core.Identity.FromName)
	assert.Empty(t, core.Identity.ReturnPath)
}

func TestNewHostnameOverride(t *testing.T) {
	cfg := &config.SieveConfig{Hostname: "filter.example.com"}
	core, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	assert.Equal(t, "filter.example.com", core.Runtime.LocalHostname())
	assert.Equal(t, "MAILER-DAEMON@filter.example.com", core.Identity.FromAddr)
}

func TestNewMissingHostname(t *testing.T) {
	cfg := &config.SieveConfig{}
	_, err := New(context.Background(), cfg, "", testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sieve.hostname")
	assert.Contains(t, err.Error(), "server.hostname")
}

func TestNewIdentityOverrides(t *testing.T) {
	cfg := &config.SieveConfig{
		FromAddr:   "postmaster@example.com",
		FromName:   "Postmaster",
		ReturnPath: "bounces@example.com",
	}
	core, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	assert.Equal(t, "postmaster@example.com", core.Identity.FromAddr)
	assert.Equal(t, "Postmaster", core.Identity.FromName)
	assert.Equal(t, "bounces@example.com", core.Identity.ReturnPath)
}

func TestNewCompilesScripts(t *testing.T) {
	dir := t.TempDir()
	spamPath := writeScript(t, dir, "spam.sieve", `
if header :contains "X-Spam-Flag" "YES" {
	discard;
}
`)
	listPath := writeScript(t, dir, "list.sieve", `
redirect "archive@example.com";
`)

	cfg := &config.SieveConfig{
		Scripts: map[string]string{
			"spam-filter": spamPath,
			"list-fwd":    listPath,
		},
	}
	core, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	require.Len(t, core.Scripts, 2)
	require.Contains(t, core.Scripts, "spam-filter")
	require.Contains(t, core.Scripts, "list-fwd")
	assert.Equal(t, "spam-filter", core.Scripts["spam-filter"].Name)

	_, ok := core.Executor("spam-filter")
	assert.True(t, ok)
	_, ok = core.Executor("unknown")
	assert.False(t, ok)
}

func TestNewCompileFailureNamesScript(t *testing.T) {
	dir := t.TempDir()
	badPath := writeScript(t, dir, "bad.sieve", `if {`)

	cfg := &config.SieveConfig{
		Scripts: map[string]string{"broken": badPath},
	}
	_, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to compile sieve script "broken"`)
}

func TestNewMissingScriptFile(t *testing.T) {
	cfg := &config.SieveConfig{
		Scripts: map[string]string{"ghost": "/nonexistent/ghost.sieve"},
	}
	_, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestNewResolvesSigners(t *testing.T) {
	cc := testContext(t)
	signer := &dkim.Signer{}
	cc.Signers["rsa"] = signer

	cfg := &config.SieveConfig{Sign: []string{"rsa"}}
	core, err := New(context.Background(), cfg, "mx1.example.com", cc)
	require.NoError(t, err)
	require.Len(t, core.Sign, 1)
	assert.Same(t, signer, core.Sign[0])
}

func TestNewUnknownSigner(t *testing.T) {
	cfg := &config.SieveConfig{Sign: []string{"missing"}}
	_, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sieve.sign")
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestNewResolvesDirectory(t *testing.T) {
	cc := testContext(t)
	cc.Directories["tracking"] = directory.NewMemory("tracking", nil)

	cfg := &config.SieveConfig{UseDirectory: "tracking"}
	core, err := New(context.Background(), cfg, "mx1.example.com", cc)
	require.NoError(t, err)
	require.NotNil(t, core.Directory)
	assert.Equal(t, "tracking", core.Directory.Name())
}

func TestNewUnknownDirectory(t *testing.T) {
	cfg := &config.SieveConfig{UseDirectory: "nowhere"}
	_, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sieve.use_directory")
	assert.Contains(t, err.Error(), `"nowhere"`)
}

func TestNewAppliesLimitOverrides(t *testing.T) {
	redirects := 4
	outMessages := 7
	cpu := 9000
	cfg := &config.SieveConfig{
		Limits: config.SieveLimitsConfig{
			Redirects:       &redirects,
			OutMessages:     &outMessages,
			CPU:             &cpu,
			DuplicateExpiry: "1d",
		},
	}
	core, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	limits := core.Runtime.Limits()
	assert.Equal(t, 4, limits.MaxRedirects)
	assert.Equal(t, 7, limits.MaxOutMessages)
	assert.Equal(t, 9000, limits.CPU)
	assert.Equal(t, 24*time.Hour, limits.DuplicateExpiry)

	// Untouched limits keep the engine defaults.
	assert.Equal(t, 3, limits.MaxNestedIncludes)
	assert.Equal(t, 10, limits.MaxReceivedHeaders)
}

func TestNewRedirectBudgetOverride(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&b, "redirect %q;\n", fmt.Sprintf("r%d@example.com", i))
	}
	path := writeScript(t, t.TempDir(), "fanout.sieve", b.String())

	redirects := 6
	cfg := &config.SieveConfig{
		Scripts: map[string]string{"fanout": path},
		Limits:  config.SieveLimitsConfig{Redirects: &redirects},
	}
	core, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	executor, ok := core.Executor("fanout")
	require.True(t, ok)

	// The configured budget governs, not the interpreter's stock cap.
	result, err := executor.Evaluate(context.Background(), testMessage("fan out"))
	require.NoError(t, err)
	assert.Equal(t, ActionRedirect, result.Action)
}

func TestNewMissingScriptSource(t *testing.T) {
	path := writeScript(t, t.TempDir(), "keep.sieve", "keep;")
	cfg := &config.SieveConfig{Scripts: map[string]string{"keep": path}}

	cc := testContext(t)
	cc.Source = nil
	_, err := New(context.Background(), cfg, "mx1.example.com", cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script source")
}

func TestNewInvalidDuplicateExpiry(t *testing.T) {
	cfg := &config.SieveConfig{
		Limits: config.SieveLimitsConfig{DuplicateExpiry: "soon"},
	}
	_, err := New(context.Background(), cfg, "mx1.example.com", testContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sieve.limits.duplicate_expiry")
}

func TestNewCapabilitySet(t *testing.T) {
	core, err := New(context.Background(), &config.SieveConfig{}, "mx1.example.com", testContext(t))
	require.NoError(t, err)

	for _, c := range SystemDisabledCapabilities {
		if c == CapExecute {
			continue
		}
		assert.False(t, core.Runtime.HasCapability(c), "capability %s should be disabled", c)
	}
	assert.True(t, core.Runtime.HasCapability(CapExecute))
	assert.True(t, core.Runtime.HasCapability(CapEnvelope))
	assert.True(t, core.Runtime.HasCapability(CapVariables))
}

func TestNewExternalLists(t *testing.T) {
	cc := testContext(t)
	cc.Lookups["blocked"] = directory.NewStaticLookup([]string{"spammer@example.com"})
	cc.Lookups["allowed"] = directory.NewStaticLookup([]string{"friend@example.com"})

	core, err := New(context.Background(), &config.SieveConfig{}, "mx1.example.com", cc)
	require.NoError(t, err)

	assert.Equal(t, []string{"allowed", "blocked"}, core.Runtime.ValidExtLists())
	assert.Len(t, core.Lookups, 2)
}

func TestNewUsesScriptCache(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "shared.sieve", `keep;`)

	cc := testContext(t)
	cc.Cache = NewScriptCache(10, time.Minute)

	cfg := &config.SieveConfig{Scripts: map[string]string{"shared": path}}
	_, err := New(context.Background(), cfg, "mx1.example.com", cc)
	require.NoError(t, err)
	assert.Equal(t, 1, cc.Cache.Size())

	// A second adapter run over the same source reuses the cached
	// compilation.
	core, err := New(context.Background(), cfg, "mx1.example.com", cc)
	require.NoError(t, err)
	assert.Equal(t, 1, cc.Cache.Size())
	require.Contains(t, core.Scripts, "shared")
}
