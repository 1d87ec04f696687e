// Package session tracks controller session identity and lifecycle.
//
// A session outlives the socket that created it. Closing the socket
// suspends the session and arms a grace timer; presenting the session id on
// a new connection before the timer fires resumes it with its injections
// and owned tabs intact. When the timer fires the session expires and its
// expiry hook tears down everything registered on its behalf.
//
// Lifecycle:
//
//	ACTIVE --close--> SUSPENDED --grace elapsed--> EXPIRED
//	   ^                  |
//	   +-----resume-------+
//
// Example Usage:
//
//	manager := session.NewManager(session.Config{Grace: 30 * time.Second}, onExpire, logger)
//	info := manager.Create(connID, 0)
//	manager.Suspend(info.ID, connID)
//	info, err := manager.Resume(info.ID, otherConnID, 0)
package session
