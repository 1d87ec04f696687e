// Package broker ties controller connections to the extension link.
//
// A Broker owns the session manager, the pending-request table and the
// injection registry. Controller envelopes enter through Handle; extension
// replies and link state changes are consumed by Run. Each response goes
// to the connection that issued the command, and only once.
package broker
