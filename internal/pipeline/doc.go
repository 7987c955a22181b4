// Package pipeline implements a typed dependency graph of provider functions.
//
// Every result is identified by a Key: a result name plus the run role,
// monitor role and I(Q)-part role it is parametrized by. Providers declare
// the key they produce and the keys they consume. A Pipeline resolves a
// requested key by recursively computing its dependencies, memoizing every
// intermediate result for the lifetime of the pipeline instance. Setting a
// parameter invalidates the memoized results of all transitive dependents.
//
// Evaluation is synchronous and single-threaded: a failure in any provider
// aborts the requested computation and propagates as a wrapped error.
package pipeline
