// Package languages maps interpreter language identifiers to the source
// snippets used to inspect variables in that interpreter.
//
// Each bundle has three parts:
//   - an init script, run once per interpreter lifetime and again after restarts
//   - a query command that prints a JSON list of variable descriptors
//   - a matrix command template that prints one variable as a JSON table
//     (pandas "table" orient) or returns it as CBOR
//
// The bundles live in bundles.yaml and scripts/, embedded at build time.
// The registry is read-only; supporting a new language means adding a
// bundle there.
package languages
