/*
Package inspector turns kernel sessions into streams of variable listings.

A Handler owns one kernel.Connector. Once the session is ready it runs the
language bundle's init script, and again after each restart. PerformInspection
runs the bundle's query command, parses the JSON listing and emits an
Update only when the listing changed. PerformMatrixInspection fetches one
tabular variable as a DataModel.

Sessions whose language has no bundle get a DummyHandler, which
implements the same Inspectable interface and does nothing.

The Manager holds one handler per session id plus the active source the
display follows. The Tracker creates handlers lazily, and the Refresher
keeps the source up to date.

	manager := inspector.NewManager(log, metrics)
	tracker := inspector.NewTracker(inspector.TrackerOptions{Manager: manager})
	h, err := tracker.Focus(ctx, session)
	h.OnInspected(func(u inspector.Update) { render(u.Payload) })
*/
package inspector
