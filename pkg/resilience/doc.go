// Package resilience collects the failure-handling primitives the control
// plane and the executor agent wrap around anything that can time out,
// fail transiently, or get hit by more callers than it can serve: the
// Redis-backed queue store, a kubectl subprocess, a noisy API client.
//
// Each type here works standalone and is wired at the one or two call
// sites that actually need it (see DESIGN.md for the ledger). Pipeline
// exists for the rarer case that wants several of them stacked behind a
// single call.
package resilience
