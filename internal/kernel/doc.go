// Package kernel defines the session capability the inspector talks to and
// the Connector that serializes execute/reply exchanges over one session.
//
// A Session is any running interpreter: an in-process JavaScript or Go
// interpreter (subpackages jsruntime and gointerp) or a remote Jupyter
// kernel reached through a kernel gateway (subpackage gateway). Sessions
// publish restart and disposal events; the Connector turns them into
// observer callbacks and makes every pending Execute settle on disposal.
//
// Readiness has no built-in timeout. Callers that need one pass a context
// with a deadline to WaitReady.
package kernel
