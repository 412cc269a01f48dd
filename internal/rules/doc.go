// Package rules turns compiled variant declarations into engine states.
//
// A model declares each variant's dependencies, an optional match on the
// triggering event, and one action from a closed set (increment, follow,
// accumulate, retire, hold). An action may also emit a message or spawn a
// new entity carrying the value it produced.
//
// A Catalog owns the compiled specs for one model. Entities hold a pointer
// to their variant's compiled form, so Dependencies returns the same slice
// for every instance of a variant.
package rules
