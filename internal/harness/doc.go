// Package harness runs scripted reconcile scenarios against the real engine,
// credential store and prober, with an in-memory identity provider standing
// in for the remote side.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	provider:
//	  sessions:
//	    - {id: alice, valid: true}
//	local:
//	  primary: alice
//	  accounts: [alice, bob]
//	faults:
//	  create_errors: {bob: quota exceeded}
//	steps:
//	  - do: signin
//	  - do: remote_changed
//	    sessions: [{id: alice, valid: true}]
//	expect:
//	  outcomes: [partial, noop]
//	  remote: [{id: alice, valid: true}]
//	  local: {primary: alice, accounts: [alice, bob]}
//	assertions:
//	  - type: trace_contains
//	    action: create:bob
//	    args: {error: CREATE_FAILED}
//	  - type: final_state
//	    table: cycles
//	    where: {seq: 1}
//	    expect: {outcome: partial}
//
// # Trace Labels
//
// Trace assertions name events by label: cycle_started, plan,
// cycle_finished, or an operation kind followed by its account, such as
// fetch, probe:alice, destroy, create:bob, import:carol or remove:bob.
//
// # Assertion Types
//
//   - trace_contains: an event with the label appears with matching fields
//   - trace_order: labels appear in the given order
//   - trace_count: a label appears exactly N times
//   - final_state: one row of a journal or store table has the expected values
//
// # Deterministic Testing
//
// Boundary calls are queued instead of run on goroutines, and the harness
// alternates between draining the engine and running the queue until both
// are idle. Cycle ids come from a sequence, the journal clock steps one
// second per write, and each scenario gets its own in-memory database, so
// a scenario always produces the same trace and the same golden snapshot.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/steady_state_noop.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
