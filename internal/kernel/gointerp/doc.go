// Package gointerp runs Go source in an in-process yaegi interpreter and
// exposes it as a kernel session.
//
// Introspection scripts import the host package "inspect":
//
//	import "inspect"
//	inspect.Variables()          // JSON listing of globals
//	inspect.Matrix("rows", 100)  // CBOR table, tagged application/cbor
//
// The interpreter cannot enumerate its own globals, so the session
// snapshots them after every evaluation and the host functions read that
// snapshot.
package gointerp
