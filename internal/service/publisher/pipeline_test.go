package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/aur-wayback-updater/internal/archive"
	"github.com/oshokin/aur-wayback-updater/internal/checksum"
	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/domain/release"
	"github.com/oshokin/aur-wayback-updater/internal/pkgbuild"
	"github.com/oshokin/aur-wayback-updater/internal/repository/aur"
)

var (
	errUnexpected = errors.New("unexpected call")

	newContent = []byte("new keydb")
	oldContent = []byte("old keydb")
)

func snapshotAt(timestamp string) *release.Snapshot {
	ts, err := time.ParseInLocation(release.VersionLayout, timestamp, time.UTC)
	if err != nil {
		panic(err)
	}

	return &release.Snapshot{
		ArchivedURL: release.SnapshotURL(config.DefaultArchiveBaseURL, ts, config.DefaultSourceURL),
		OriginalURL: config.DefaultSourceURL,
		Timestamp:   ts,
	}
}

type fakeArchive struct {
	requestErr error
	awaitErr   error
	snapshot   *release.Snapshot
	latest     *release.Snapshot
	latestErr  error
	content    []byte
	fetchErr   error

	requests int
	latests  int
	fetched  []string
}

func (f *fakeArchive) RequestSnapshot(_ context.Context, sourceURL string) (*release.Job, error) {
	f.requests++

	if f.requestErr != nil {
		return nil, f.requestErr
	}

	return &release.Job{RequestID: sourceURL, SourceURL: sourceURL, Status: release.JobPending}, nil
}

func (f *fakeArchive) AwaitSnapshot(_ context.Context, _ *release.Job) (*release.Snapshot, error) {
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}

	return f.snapshot, nil
}

func (f *fakeArchive) LatestSnapshot(_ context.Context, _ string) (*release.Snapshot, error) {
	f.latests++

	if f.latestErr != nil {
		return nil, f.latestErr
	}

	if f.latest == nil {
		return nil, errUnexpected
	}

	return f.latest, nil
}

func (f *fakeArchive) FetchContent(_ context.Context, snapshot *release.Snapshot) ([]byte, error) {
	f.fetched = append(f.fetched, snapshot.ArchivedURL)

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}

	return f.content, nil
}

type commit struct {
	files   []release.File
	message string
}

// fakeRepository keeps the published manifest in memory.
type fakeRepository struct {
	manifest  []byte
	syncErr   error
	commitErr error

	syncs   int
	commits []commit
}

func (f *fakeRepository) Sync(_ context.Context) (*aur.WorkingCopy, error) {
	f.syncs++

	if f.syncErr != nil {
		return nil, f.syncErr
	}

	return &aur.WorkingCopy{Dir: "memory", Branch: "master", Unborn: f.manifest == nil}, nil
}

func (f *fakeRepository) ReadPublishedState(_ context.Context, _ *aur.WorkingCopy) (*release.PublishedState, error) {
	if f.manifest == nil {
		return nil, nil
	}

	return pkgbuild.Parse(bytes.NewReader(f.manifest))
}

func (f *fakeRepository) CommitAndPush(_ context.Context, _ *aur.WorkingCopy, files []release.File, message string) error {
	if f.commitErr != nil {
		return f.commitErr
	}

	for _, file := range files {
		if file.Name == pkgbuild.ManifestFilename {
			if bytes.Equal(file.Data, f.manifest) {
				return nil
			}

			f.manifest = file.Data
		}
	}

	f.commits = append(f.commits, commit{files: files, message: message})

	return nil
}

// publish seeds the repository with a manifest for content captured at timestamp.
func (f *fakeRepository) publish(t *testing.T, timestamp string, content []byte) {
	t.Helper()

	snapshot := snapshotAt(timestamp)

	artifact, err := pkgbuild.Render(pkgbuild.NewPackage(
		config.Default(), snapshot.Version(), snapshot.ArchivedURL, checksum.Digest(content)))
	require.NoError(t, err)

	f.manifest = artifact.Manifest
}

func newPipeline(archiveClient ArchiveClient, repository RepositoryManager, opts ...PipelineOption) *Pipeline {
	return NewPipeline(config.Default(), archiveClient, repository, opts...)
}

func TestExecute_FirstPublish(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent}
		repository = new(fakeRepository)
	)

	result, err := newPipeline(wayback, repository).Execute(context.Background())
	require.NoError(t, err)

	require.Equal(t, StateDone, result.State)
	require.Nil(t, result.Previous)
	require.Equal(t, "20250707095314", result.Version)
	require.Equal(t, checksum.Digest(newContent), result.Digest)

	require.Len(t, repository.commits, 1)
	require.Equal(t, "Update to 20250707095314", repository.commits[0].message)
	require.Len(t, repository.commits[0].files, 2)
	require.Contains(t, string(repository.manifest), "sha256sums=('"+checksum.Digest(newContent)+"')")
}

func TestExecute_DigestChangeTriggersUpdate(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent}
		repository = new(fakeRepository)
	)

	repository.publish(t, "20250101000000", oldContent)

	result, err := newPipeline(wayback, repository).Execute(context.Background())
	require.NoError(t, err)

	require.Equal(t, StateDone, result.State)
	require.Equal(t, "20250101000000", result.Previous.Version)
	require.Equal(t, checksum.Digest(oldContent), result.Previous.Digest)
	require.Len(t, repository.commits, 1)

	state, err := pkgbuild.Parse(bytes.NewReader(repository.manifest))
	require.NoError(t, err)
	require.Equal(t, "20250707095314", state.Version)
	require.Equal(t, checksum.Digest(newContent), state.Digest)
}

func TestExecute_Idempotent(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent}
		repository = new(fakeRepository)
		pipeline   = newPipeline(wayback, repository)
	)

	first, err := pipeline.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, first.State)

	// The next capture has a newer timestamp but identical bytes.
	wayback.snapshot = snapshotAt("20250708000000")

	second, err := pipeline.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateUpToDate, second.State)
	require.Equal(t, "20250707095314", second.Previous.Version)
	require.Len(t, repository.commits, 1)
}

func TestExecute_OlderFreshCaptureIsPublished(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{snapshot: snapshotAt("20240101000000"), content: oldContent}
		repository = new(fakeRepository)
	)

	repository.publish(t, "20250707095314", newContent)

	result, err := newPipeline(wayback, repository).Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)
	require.False(t, result.Fallback)
	require.Len(t, repository.commits, 1)
}

func TestExecute_OlderFallbackSnapshotIsNotPublished(t *testing.T) {
	t.Parallel()

	var (
		wayback = &fakeArchive{
			awaitErr: archive.ErrArchiveTimeout,
			latest:   snapshotAt("20240101000000"),
			content:  oldContent,
		}
		repository = new(fakeRepository)
		cfg        = config.Default()
	)

	cfg.FallbackToExisting = true
	repository.publish(t, "20250707095314", newContent)

	result, err := NewPipeline(cfg, wayback, repository).Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateUpToDate, result.State)
	require.True(t, result.Fallback)
	require.Empty(t, repository.commits)
}

func TestExecute_NonTimestampPublishedVersionIsReplaced(t *testing.T) {
	t.Parallel()

	for _, fallback := range []bool{false, true} {
		fallback := fallback
		t.Run(fmt.Sprintf("fallback=%t", fallback), func(t *testing.T) {
			t.Parallel()

			var (
				snapshot = snapshotAt("20250707095314")
				wayback  = &fakeArchive{content: newContent}
				cfg      = config.Default()
			)

			if fallback {
				wayback.awaitErr = archive.ErrArchiveTimeout
				wayback.latest = snapshot
				cfg.FallbackToExisting = true
			} else {
				wayback.snapshot = snapshot
			}

			repository := &fakeRepository{manifest: []byte(
				"pkgname=aacs-keydb-daily\npkgver=r9\npkgrel=1\n" +
					"source=('keydb_eng.zip::https://example.com/keydb_eng.zip')\n" +
					"sha256sums=('" + checksum.Digest(oldContent) + "')\n")}

			result, err := NewPipeline(cfg, wayback, repository).Execute(context.Background())
			require.NoError(t, err)
			require.Equal(t, StateDone, result.State)
			require.Equal(t, "r9", result.Previous.Version)
			require.Len(t, repository.commits, 1)
		})
	}
}

func TestPredates(t *testing.T) {
	t.Parallel()

	require.True(t, predates("20240101000000", "20250707095314"))
	require.False(t, predates("20250707095314", "20240101000000"))
	require.False(t, predates("20250707095314", "20250707095314"))
	require.False(t, predates("20250707095314", "r9"))
	require.False(t, predates("1.0", "20250707095314"))
}

func TestExecute_TimeoutLeavesRepositoryUntouched(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{awaitErr: fmt.Errorf("5 polls: %w", archive.ErrArchiveTimeout)}
		repository = new(fakeRepository)
	)

	result, err := newPipeline(wayback, repository).Execute(context.Background())
	require.ErrorIs(t, err, archive.ErrArchiveTimeout)
	require.Equal(t, StateFailed, result.State)
	require.Equal(t, 3, ExitCode(err))

	require.Zero(t, repository.syncs)
	require.Empty(t, repository.commits)
	require.Empty(t, wayback.fetched)
}

func TestExecute_MalformedManifest(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent}
		repository = &fakeRepository{manifest: []byte("pkgname=broken\n")}
	)

	result, err := newPipeline(wayback, repository).Execute(context.Background())
	require.ErrorIs(t, err, pkgbuild.ErrManifestParse)
	require.Equal(t, StateFailed, result.State)
	require.Equal(t, 10, ExitCode(err))
	require.Empty(t, repository.commits)
}

func TestExecute_Fallback(t *testing.T) {
	t.Parallel()

	latest := snapshotAt("20250706000000")

	for _, captureErr := range []error{
		archive.ErrArchiveRequest,
		archive.ErrArchiveTimeout,
		archive.ErrArchiveJobFailed,
	} {
		captureErr := captureErr
		t.Run(captureErr.Error(), func(t *testing.T) {
			t.Parallel()

			var (
				wayback = &fakeArchive{
					awaitErr: captureErr,
					latest:   latest,
					content:  newContent,
				}
				repository = new(fakeRepository)
				cfg        = config.Default()
			)

			cfg.FallbackToExisting = true

			result, err := NewPipeline(cfg, wayback, repository).Execute(context.Background())
			require.NoError(t, err)
			require.Equal(t, StateDone, result.State)
			require.Equal(t, "20250706000000", result.Version)
			require.Equal(t, []string{latest.ArchivedURL}, wayback.fetched)
			require.Equal(t, 1, wayback.latests)
		})
	}
}

func TestExecute_FallbackDisabled(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{requestErr: archive.ErrArchiveRequest, latest: snapshotAt("20250706000000")}
		repository = new(fakeRepository)
	)

	_, err := newPipeline(wayback, repository).Execute(context.Background())
	require.ErrorIs(t, err, archive.ErrArchiveRequest)
	require.Equal(t, 2, ExitCode(err))
	require.Zero(t, wayback.latests)
}

func TestExecute_FallbackFailureKeepsBothErrors(t *testing.T) {
	t.Parallel()

	var (
		wayback = &fakeArchive{
			requestErr: archive.ErrArchiveRequest,
			latestErr:  archive.ErrArchiveResponseParse,
		}
		cfg = config.Default()
	)

	cfg.FallbackToExisting = true

	_, err := NewPipeline(cfg, wayback, new(fakeRepository)).Execute(context.Background())
	require.ErrorIs(t, err, archive.ErrArchiveRequest)
	require.ErrorIs(t, err, archive.ErrArchiveResponseParse)
}

func TestExecute_DryRun(t *testing.T) {
	t.Parallel()

	var (
		wayback    = &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent}
		repository = new(fakeRepository)
	)

	result, err := newPipeline(wayback, repository, WithDryRun(true)).Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, result.State)
	require.True(t, result.DryRun)
	require.NotNil(t, result.Artifact)
	require.Empty(t, repository.commits)
	require.Nil(t, repository.manifest)
}

func TestExecute_FailureKinds(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		wayback    *fakeArchive
		repository *fakeRepository
		want       error
		code       int
	}{
		"download": {
			wayback:    &fakeArchive{snapshot: snapshotAt("20250707095314"), fetchErr: archive.ErrArchiveDownload},
			repository: new(fakeRepository),
			want:       archive.ErrArchiveDownload,
			code:       6,
		},
		"sync": {
			wayback:    &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent},
			repository: &fakeRepository{syncErr: aur.ErrRepoSync},
			want:       aur.ErrRepoSync,
			code:       7,
		},
		"push": {
			wayback:    &fakeArchive{snapshot: snapshotAt("20250707095314"), content: newContent},
			repository: &fakeRepository{commitErr: aur.ErrRepoPush},
			want:       aur.ErrRepoPush,
			code:       9,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			result, err := newPipeline(tc.wayback, tc.repository).Execute(context.Background())
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, StateFailed, result.State)
			require.Equal(t, tc.code, ExitCode(err))
		})
	}
}
