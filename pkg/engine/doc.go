// Package engine provides the core types and the lifecycle logic of catletctl.
//
// # Overview
//
// A catlet is a virtual machine created from a gene template on a remote
// compute service. The engine moves one catlet from its observed state to the
// state an action asks for, using four cooperating parts:
//
//  1. Resolver - Merge a base spec with generated, user and template fodder
//  2. StatusCache - Look up catlet summaries by id or name with one bulk list
//  3. Orchestrator - Decide the remote calls from the transition table
//  4. Tracker - Poll a remote operation until it completes, fails or times out
//
// # Reconciled States
//
// Remote status strings are folded into a small set of states:
//
//   - absent: no catlet with the id or name exists
//   - created-stopped, created-running: the catlet exists in that power state
//   - created-unknown: any status the engine does not recognize
//   - created-error: the service reports the catlet as failed
//
// # Actions
//
// Each action maps every state to a fixed list of steps:
//
//	up:        absent -> create, start; stopped -> start; running -> provision
//	halt:      running -> stop
//	destroy:   any created state -> destroy
//	reload:    running -> stop, start; stopped -> start
//	resume:    stopped -> start
//	provision: running -> provision
//
// Plan and Transitions expose the full table.
//
// # Errors
//
// All failures are *Error values classified by ErrorKind. Use errors.Is with
// the Err* sentinels or the Is* helpers:
//
//	outcome, err := orch.Reconcile(ctx, engine.ActionUp, target)
//	if engine.IsTimeout(err) {
//	    // target.ID already holds the id seen in the last snapshot
//	}
//
// # Thread Safety
//
// StatusCache is safe for concurrent use and is typically shared by every
// Orchestrator of a run. Targets are not; each goroutine owns its *Target.
package engine
