// Package eval evaluates condition expressions and rule calls against a
// read-only view of struct instances.
//
// Rule parameters are bound positionally first, then by name, then from
// declared defaults. A rule body is the AND of its expressions and
// short-circuits at the first false. Nested calls are bounded by a
// configurable depth limit (DefaultMaxDepth) so cyclic rule graphs fail
// with RuleRecursionLimitExceeded instead of overflowing the stack.
//
// Evaluation never mutates instances; one Evaluator can serve many ticks.
package eval
