// Package release contains the domain types that flow through one update run.
//
// It defines archive jobs and snapshots produced by the archive client, the
// published package state read back from the working copy, and the rendered
// artifact pushed to the package repository. Nothing here outlives a run.
package release
