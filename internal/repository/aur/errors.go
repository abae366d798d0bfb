package aur

import "errors"

var (
	// ErrRepoSync is returned when the working copy cannot be aligned with the remote.
	ErrRepoSync = errors.New("repository sync failed")
	// ErrRepoCommit is returned when the regenerated files cannot be committed.
	ErrRepoCommit = errors.New("repository commit failed")
	// ErrRepoPush is returned when the remote rejects or cannot receive the commit.
	ErrRepoPush = errors.New("repository push failed")
)
