package publisher

import (
	"errors"

	"github.com/oshokin/aur-wayback-updater/internal/archive"
	"github.com/oshokin/aur-wayback-updater/internal/pkgbuild"
	"github.com/oshokin/aur-wayback-updater/internal/repository/aur"
)

const (
	// ExitOK is returned for up to date and published runs.
	ExitOK = 0
	// ExitFailure is returned for failures without a dedicated code.
	ExitFailure = 1
)

//nolint:gochecknoglobals // Lookup table, matched in order.
var exitCodes = []struct {
	err  error
	code int
}{
	{archive.ErrArchiveRequest, 2},
	{archive.ErrArchiveTimeout, 3},
	{archive.ErrArchiveJobFailed, 4},
	{archive.ErrArchiveResponseParse, 5},
	{archive.ErrArchiveDownload, 6},
	{aur.ErrRepoSync, 7},
	{aur.ErrRepoCommit, 8},
	{aur.ErrRepoPush, 9},
	{pkgbuild.ErrManifestParse, 10},
}

// ExitCode maps a run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	for _, candidate := range exitCodes {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}

	return ExitFailure
}
