// Package job defines the deferred-call descriptor and its wire projection.
// A Job describes one deferred function invocation: the target function
// reference, its arguments, and delivery metadata such as the destination
// queue, headers, and an earliest-execution time. Jobs serialize to a plain
// options map (ToDict/FromDict round-trip losslessly) and project to a
// backend-ready Task without being mutated.
package job
