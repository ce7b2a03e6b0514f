// Package conn tracks the live outbound channel of every identified device.
//
// A Channel is the hub's handle on one transport connection. The Registry
// maps device IDs to at most one Channel each; re-registering an ID replaces
// the previous handle, and Unregister only removes the mapping when the caller
// still owns it, so a late close on a replaced connection cannot evict the
// newer one.
//
// All Registry methods are safe for concurrent use.
package conn
