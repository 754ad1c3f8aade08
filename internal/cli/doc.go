// Package cli implements the forkterm command-line interface.
//
// Commands are package-level cobra.Command values registered in init().
// Each RunE loads what it needs through loadSettings or newApp and hands off
// to a plain function that takes an io.Writer, so tests can drive commands
// without a terminal:
//
//	forkterm [request]        - parse and run a request (same as run)
//	forkterm run <request>    - parse and run a request
//	forkterm parse <request>  - show the routing decision only
//	forkterm batch <file|->   - run many requests, one per line
//	forkterm hosts [list|add|remove]
//	forkterm creds [set|forget|passphrase|status]
//	forkterm version
//
// Every command takes --json. Output is then a single envelope:
// {"success": bool, "data": ..., "error": {...}}.
//
// # Exit codes
//
// A command that ran passes its exit code through. Parse and usage errors
// exit 2; every other failure exits 1.
package cli
