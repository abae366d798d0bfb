package release

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// VersionLayout renders a snapshot timestamp as the 14-digit package version.
const VersionLayout = "20060102150405"

// ErrMalformedArchivedURL is returned when a URL does not carry a snapshot timestamp.
var ErrMalformedArchivedURL = errors.New("archived url has no snapshot timestamp")

// archivedURLPattern matches ".../web/<14 digits>[modifier_]/<original url>".
var archivedURLPattern = regexp.MustCompile(`/web/(\d{14})(?:[a-z]{2}_)?/(.+)$`)

// JobStatus is the lifecycle state of an archive request.
type JobStatus string

const (
	// JobPending means the archive is still capturing the resource.
	JobPending JobStatus = "pending"
	// JobReady means a snapshot can be downloaded.
	JobReady JobStatus = "ready"
	// JobFailed means the archive gave up on the capture.
	JobFailed JobStatus = "failed"
)

// Job tracks an in-flight archive request.
type Job struct {
	// RequestID identifies the request at the archive service.
	// The availability API is keyed by URL, so it is the source URL itself.
	RequestID string
	// SourceURL is the upstream resource being archived.
	SourceURL string
	// RequestedAt is when the capture was requested.
	RequestedAt time.Time
	// NotBefore is the earliest capture time that answers this request.
	// Older captures existed before the request and are not waited for.
	NotBefore time.Time
	// Status is updated on every poll.
	Status JobStatus
}

// Snapshot is an immutable archived copy of the upstream resource.
type Snapshot struct {
	// ArchivedURL is the permanent URL serving the snapshot bytes.
	ArchivedURL string
	// OriginalURL is the upstream URL the snapshot was taken of.
	OriginalURL string
	// Timestamp is the capture time with second precision, in UTC.
	Timestamp time.Time
}

// Version returns the package version derived from the snapshot timestamp.
func (s *Snapshot) Version() string {
	return FormatVersion(s.Timestamp)
}

// FormatVersion renders t as the 14-digit YYYYMMDDhhmmss version string.
func FormatVersion(t time.Time) string {
	return t.UTC().Format(VersionLayout)
}

// ParseArchivedURL extracts the capture timestamp and the original URL from a
// permanent snapshot URL such as
// https://web.archive.org/web/20250707095314/http://example.com/file.zip.
func ParseArchivedURL(archivedURL string) (time.Time, string, error) {
	match := archivedURLPattern.FindStringSubmatch(strings.TrimSpace(archivedURL))
	if match == nil {
		return time.Time{}, "", fmt.Errorf("%q: %w", archivedURL, ErrMalformedArchivedURL)
	}

	timestamp, err := time.ParseInLocation(VersionLayout, match[1], time.UTC)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%q: %w: %w", archivedURL, ErrMalformedArchivedURL, err)
	}

	return timestamp, match[2], nil
}

// VersionFromArchivedURL returns the package version embedded in archivedURL.
func VersionFromArchivedURL(archivedURL string) (string, error) {
	timestamp, _, err := ParseArchivedURL(archivedURL)
	if err != nil {
		return "", err
	}

	return FormatVersion(timestamp), nil
}

// SnapshotURL builds the permanent URL of a capture under baseURL.
// The result always parses back to the same timestamp with ParseArchivedURL.
func SnapshotURL(baseURL string, timestamp time.Time, originalURL string) string {
	return strings.TrimRight(baseURL, "/") + "/web/" + FormatVersion(timestamp) + "/" + originalURL
}
