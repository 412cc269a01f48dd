// Package harness runs declarative models against the engine from YAML
// scenarios and checks the outcome.
//
// # Scenario Format
//
//	name: counter_quiesces
//	description: "What this scenario validates"
//	model: ../models/counter      # directory of CUE files, relative to the scenario
//	strategy: cooperative         # or parallel
//	workers: 4                    # parallel only
//	iters: 100                    # tick budget
//	timeout: 5s
//	events:                       # appended after the model's seeds
//	  - variant: tick
//	    value: 8
//	assertions:
//	  - type: status
//	    status: quiesced
//	  - type: entity_count
//	    variant: counter
//	    count: 1
//	  - type: entity_value
//	    variant: counter
//	    value: 1.0
//	  - type: variant_absent
//	    variant: alarm
//	  - type: notification_count
//	    variant: counter
//	    count: 11
//
// Each run records its notifications into a fresh in-memory store through
// a broker, so notification_count assertions read the same trace that
// `xsm trace` would show.
//
// # Golden Files
//
// RunWithGolden compares a canonical summary of the outcome (status, final
// registry, notification counts per variant) against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
//
// Only the final registry and counts are compared; ticks and notification
// order depend on scheduling under the parallel strategy.
package harness
