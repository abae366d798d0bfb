package archive

import "errors"

var (
	// ErrArchiveRequest is returned when the archive refuses or fails a capture request.
	ErrArchiveRequest = errors.New("archive request failed")
	// ErrArchiveTimeout is returned when a capture is not available within the wait budget.
	ErrArchiveTimeout = errors.New("timed out waiting for archive snapshot")
	// ErrArchiveJobFailed is returned when the archive reports that a capture failed.
	ErrArchiveJobFailed = errors.New("archive job failed")
	// ErrArchiveResponseParse is returned when a response lacks a timestamped snapshot URL.
	ErrArchiveResponseParse = errors.New("unexpected archive response")
	// ErrArchiveDownload is returned when snapshot bytes cannot be downloaded.
	ErrArchiveDownload = errors.New("archive download failed")
)
