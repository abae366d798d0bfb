// Package archive talks to the Wayback Machine.
//
// The Client requests a capture of an upstream URL, polls the availability
// API until the capture can be resolved to a permanent snapshot URL, and
// downloads the snapshot bytes. Waiting is driven by a PollPolicy, a pure
// function of the attempt count and the elapsed time, and by an injectable
// Clock so the schedule can be tested without real delays.
package archive
