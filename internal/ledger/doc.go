// Package ledger provides the durable phase ledger tracking features
// through the PDCA cycle.
//
// The ledger is one JSON snapshot per project, rewritten wholesale on each
// save. Callers batch mutations: one Get, N Apply* calls on the snapshot,
// one Save. Automated phase signals are forward-only; explicit manual
// transitions may regress or, with an override, skip ahead.
package ledger
