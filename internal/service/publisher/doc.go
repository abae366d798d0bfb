// Package publisher runs one update of the AUR package.
//
// A Pipeline captures the upstream file through the archive, compares its
// digest with the published manifest and, when they differ, renders and
// pushes a new manifest. Each run walks an explicit state machine so the
// outcome (up to date, published or failed) is always known to the caller.
package publisher
