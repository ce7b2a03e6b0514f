// Package state holds the last-known state of every device the hub has seen.
//
// A Store maps a device ID to a Record. Records are created on the first
// handshake or update for an unseen ID, shallow-merged on every update
// (incoming keys overwrite, other keys persist) and marked offline on
// disconnect. Records are never deleted, so last-known state survives a
// reconnect and remains queryable while the device is away.
//
// Application fields are open-ended: whatever JSON object a device sends is
// kept verbatim as Fields (string keys to decoded JSON values). The hub owns
// online, lastUpdate and lastSeen; devices cannot set them.
//
// Every read returns a deep copy, so a Snapshot can be serialised or handed
// to another goroutine while devices keep merging.
//
// Thread Safety: All Store methods are safe for concurrent use.
package state
