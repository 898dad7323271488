// Package harness runs sync scenarios end to end and records a
// deterministic trace for golden-file comparison.
//
// A scenario drives one local store, one in-memory remote and one sync
// engine through a list of steps. The remote's revision clock is pinned to
// a fixed epoch, so revisions and cursors come out the same on every run.
//
// # Scenario Format
//
//	name: offline_then_reconnect
//	description: "A write made offline is pushed once connectivity returns"
//	owner: u1
//	online: false
//	page_size: 500
//	steps:
//	  - put: { kind: session, id: e1, payload: { exercise: squat } }
//	  - expect_pending: 1
//	  - online: true
//	  - sync: true
//	  - expect_remote: { kind: session, count: 1 }
//
// # Steps
//
// Each step names exactly one action:
//
//   - online, owner, signout: change the identity the engine sees
//   - put, delete: local writes (they append outbox entries)
//   - remote_put, remote_seed: rows written on the remote by another device
//   - reject, accept, fail_next: remote fault injection
//   - sync: run one cycle and record its summary
//   - show_outbox, show_calls, show_local: record state in the trace
//   - expect_pending, expect_local, expect_remote: assertions
//
// A failed expectation marks the result as failed but does not stop the run,
// so the trace still shows everything that happened.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_then_reconnect.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
package harness
