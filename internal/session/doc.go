// Package session implements the per-connection protocol for device agents.
//
// Each accepted device socket gets one Session, driven by the connection's
// read loop:
//
//	s := handler.Open(ch, idFromQuery) // idFromQuery may be ""
//	for frame := range frames {
//	    s.HandleMessage(frame)
//	}
//	s.HandleClose()
//
// A Session starts UNIDENTIFIED unless the accept request already named the
// device. The first message carrying a string "deviceId" identifies it. Once
// IDENTIFIED, every JSON object received is merged into the device's record
// verbatim and the change is published to the observer.
//
// A Session is owned by one goroutine. The Handler it was opened from is safe
// for concurrent use by many sessions.
package session
