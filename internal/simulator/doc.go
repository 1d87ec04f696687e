/*
Package simulator implements an in-process stand-in for the browser
extension. It dials the broker's extension endpoint, keeps tabs with
per-page script runtimes, applies registered injections on page load and
answers every catalog action with the result shapes the real extension
produces.

It backs the end-to-end tests and the server's -simulate flag.
*/
package simulator
