// Package sieveengine configures and drives the embedded SIEVE
// filtering engine.
//
// SIEVE (RFC 5228) is a language for filtering email messages at
// delivery time. This package does not implement the language itself;
// compilation and execution are owned by the interpreter library. What
// lives here is the glue an MTA needs around it:
//
//   - translation of declarative configuration into a ready-to-use
//     compiler/runtime pair (New)
//   - a compiled script registry built from file or object-store
//     backed sources
//   - a capability catalogue with the system-script deny list
//   - per-execution policy enforcing redirect and outbound-message
//     budgets, with duplicate and vacation tracking delegated to a
//     configured directory backend
//   - an LRU cache of compiled scripts keyed by content hash
//
// # Configuration Model
//
// The adapter reads the [sieve] block of the configuration file:
//
//	[server]
//	hostname = "mx1.example.com"
//
//	[sieve]
//	use_directory = "tracking"
//
//	[sieve.scripts]
//	spam-filter = "/etc/filterd/scripts/spam.sieve"
//	greylist    = "s3://scripts/greylist.sieve"
//
//	[sieve.limits]
//	redirects    = 2
//	out_messages = 5
//
// Every limit has an engine default and applies only when overridden.
// The resolved hostname comes from sieve.hostname, falling back to
// server.hostname; at least one must be set.
//
// # Execution Model
//
// Scripts are compiled once at startup and executed per message:
//
//	core, err := sieveengine.New(ctx, &cfg.Sieve, cfg.Server.Hostname, cc)
//	if err != nil {
//		// configuration error, abort startup
//	}
//	exec, _ := core.Executor("spam-filter")
//	result, err := exec.Evaluate(ctx, sieveengine.Context{...})
//
// Evaluation yields a single Result action (keep, discard, fileinto,
// redirect or vacation) plus flags and header edits for the delivery
// path to apply. Each evaluation runs with its own policy instance, so
// executors are safe for concurrent use.
package sieveengine
