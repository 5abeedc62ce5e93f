// Package ir provides the value and expression model of material-flow
// programs: typed values, struct instances, condition expressions, rules,
// order steps, tasks and the Program index that ties them together.
//
// ir imports nothing internal; every other package builds on it.
//
// Key design constraints:
//   - Values are a closed set of tagged types (Value is sealed)
//   - Programs are passed explicitly, never held in global registries
//   - Canonical JSON (RFC 8785) is the only encoding used for hashing
package ir
