// Package history keeps an append-only SQLite log of device state changes.
//
// The log is for inspection only: the hub never restores its in-memory state
// from it. Each merge is stored with source "device" and each disconnect with
// source "disconnect"; the stored state is the full record after the change.
//
// Writes happen off the device read loops. Wrap the Recorder in a
// state.Queue before adding it to the change fan-out:
//
//	repo := history.NewSQLiteRepository(db.DB)
//	q := state.NewQueue("history", history.NewRecorder(repo, logger), 256)
//	go q.Run(ctx)
//	fanout.Add(q)
package history
