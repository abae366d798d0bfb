package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/aur-wayback-updater/internal/archive"
	"github.com/oshokin/aur-wayback-updater/internal/checksum"
	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/domain/release"
	"github.com/oshokin/aur-wayback-updater/internal/logger"
	"github.com/oshokin/aur-wayback-updater/internal/pkgbuild"
	"github.com/oshokin/aur-wayback-updater/internal/repository/aur"
)

// ArchiveClient captures and downloads upstream snapshots.
type ArchiveClient interface {
	RequestSnapshot(ctx context.Context, sourceURL string) (*release.Job, error)
	AwaitSnapshot(ctx context.Context, job *release.Job) (*release.Snapshot, error)
	LatestSnapshot(ctx context.Context, sourceURL string) (*release.Snapshot, error)
	FetchContent(ctx context.Context, snapshot *release.Snapshot) ([]byte, error)
}

// RepositoryManager reads and updates the package repository.
type RepositoryManager interface {
	Sync(ctx context.Context) (*aur.WorkingCopy, error)
	ReadPublishedState(ctx context.Context, wc *aur.WorkingCopy) (*release.PublishedState, error)
	CommitAndPush(ctx context.Context, wc *aur.WorkingCopy, files []release.File, message string) error
}

// Result describes how a run ended.
type Result struct {
	// State is the terminal state reached.
	State State
	// Version is the version of the captured snapshot.
	Version string
	// Digest is the checksum of the captured content.
	Digest string
	// ArchivedURL is the permanent URL of the captured snapshot.
	ArchivedURL string
	// Previous is what was published before the run; nil on first publish.
	Previous *release.PublishedState
	// Artifact is the rendered manifest, set once Generating succeeded.
	Artifact *release.Artifact
	// DryRun is true when publishing was skipped on request.
	DryRun bool
	// Fallback is true when the snapshot is an existing capture rather than a fresh one.
	Fallback bool
}

// Pipeline wires the collaborators of a single run.
type Pipeline struct {
	cfg        *config.Config
	archive    ArchiveClient
	repository RepositoryManager
	dryRun     bool
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithDryRun renders the manifest but never commits or pushes it.
func WithDryRun(dryRun bool) PipelineOption {
	return func(p *Pipeline) {
		p.dryRun = dryRun
	}
}

// NewPipeline creates a Pipeline over the given collaborators.
func NewPipeline(
	cfg *config.Config,
	archiveClient ArchiveClient,
	repository RepositoryManager,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		archive:    archiveClient,
		repository: repository,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// execution is the data collected while walking the states.
type execution struct {
	result      *Result
	snapshot    *release.Snapshot
	workingCopy *aur.WorkingCopy
}

// Execute walks the state machine until a terminal state is reached.
// The returned Result is never nil; on failure its State is StateFailed.
func (p *Pipeline) Execute(ctx context.Context) (*Result, error) {
	run := &execution{
		result: &Result{State: StateStart, DryRun: p.dryRun},
	}

	next := StateArchiving

	for {
		if err := transition(run.result.State, next); err != nil {
			return p.fail(ctx, run, err)
		}

		logger.DebugKV(ctx, "State changed", "from", run.result.State, "to", next)

		run.result.State = next
		if next.IsTerminal() {
			return run.result, nil
		}

		var err error

		next, err = p.step(ctx, run)
		if err != nil {
			return p.fail(ctx, run, err)
		}
	}
}

func (p *Pipeline) step(ctx context.Context, run *execution) (State, error) {
	switch run.result.State {
	case StateArchiving:
		return p.archiving(ctx, run)
	case StateComparing:
		return p.comparing(ctx, run)
	case StateGenerating:
		return p.generating(ctx, run)
	case StatePublishing:
		return p.publishing(ctx, run)
	default:
		return StateFailed, fmt.Errorf("%w: no step for %s", errInvalidTransition, run.result.State)
	}
}

func (p *Pipeline) fail(ctx context.Context, run *execution, err error) (*Result, error) {
	logger.ErrorKV(ctx, "Run failed", "state", run.result.State, "error", err)

	run.result.State = StateFailed

	return run.result, err
}

func (p *Pipeline) archiving(ctx context.Context, run *execution) (State, error) {
	snapshot, fallback, err := p.capture(ctx)
	if err != nil {
		return StateFailed, err
	}

	content, err := p.archive.FetchContent(ctx, snapshot)
	if err != nil {
		return StateFailed, err
	}

	run.snapshot = snapshot
	run.result.Fallback = fallback
	run.result.Version = snapshot.Version()
	run.result.ArchivedURL = snapshot.ArchivedURL
	run.result.Digest = checksum.Digest(content)

	logger.InfoKV(ctx, "Snapshot hashed",
		"version", run.result.Version,
		"url", run.result.ArchivedURL,
		"digest", run.result.Digest,
		"bytes", len(content))

	return StateComparing, nil
}

// capture requests a fresh snapshot and, when allowed, settles for the latest
// existing one. The flag reports whether the fallback was taken.
func (p *Pipeline) capture(ctx context.Context) (*release.Snapshot, bool, error) {
	snapshot, err := p.requestAndAwait(ctx)
	if err == nil {
		return snapshot, false, nil
	}

	if !p.cfg.FallbackToExisting || !isFallbackEligible(err) {
		return nil, false, err
	}

	logger.WarnKV(ctx, "Capture failed, falling back to the latest existing snapshot", "error", err)

	fallback, fallbackErr := p.archive.LatestSnapshot(ctx, p.cfg.SourceURL)
	if fallbackErr != nil {
		return nil, false, errors.Join(err, fallbackErr)
	}

	return fallback, true, nil
}

func (p *Pipeline) requestAndAwait(ctx context.Context) (*release.Snapshot, error) {
	job, err := p.archive.RequestSnapshot(ctx, p.cfg.SourceURL)
	if err != nil {
		return nil, err
	}

	return p.archive.AwaitSnapshot(ctx, job)
}

func isFallbackEligible(err error) bool {
	return errors.Is(err, archive.ErrArchiveRequest) ||
		errors.Is(err, archive.ErrArchiveTimeout) ||
		errors.Is(err, archive.ErrArchiveJobFailed)
}

func (p *Pipeline) comparing(ctx context.Context, run *execution) (State, error) {
	wc, err := p.repository.Sync(ctx)
	if err != nil {
		return StateFailed, err
	}

	run.workingCopy = wc

	previous, err := p.repository.ReadPublishedState(ctx, wc)
	if err != nil {
		return StateFailed, err
	}

	run.result.Previous = previous

	switch {
	case previous == nil:
		logger.Info(ctx, "Nothing published yet, creating the package")

		return StateGenerating, nil
	case !previous.IsStale(run.result.Digest):
		logger.InfoKV(ctx, "Published package is up to date", "version", previous.Version)

		return StateUpToDate, nil
	case run.result.Fallback && predates(run.result.Version, previous.Version):
		logger.WarnKV(ctx, "Snapshot is older than the published version, keeping the published one",
			"snapshot", run.result.Version, "published", previous.Version)

		return StateUpToDate, nil
	default:
		logger.InfoKV(ctx, "Upstream content changed",
			"published_version", previous.Version,
			"published_digest", previous.Digest,
			"digest", run.result.Digest)

		return StateGenerating, nil
	}
}

func (p *Pipeline) generating(ctx context.Context, run *execution) (State, error) {
	pkg := pkgbuild.NewPackage(p.cfg, run.result.Version, run.result.ArchivedURL, run.result.Digest)

	artifact, err := pkgbuild.Render(pkg)
	if err != nil {
		return StateFailed, err
	}

	run.result.Artifact = artifact

	if p.dryRun {
		logger.InfoKV(ctx, "Dry run, not publishing", "version", run.result.Version)

		return StateDone, nil
	}

	return StatePublishing, nil
}

func (p *Pipeline) publishing(ctx context.Context, run *execution) (State, error) {
	message := CommitMessage(run.result.Version)

	err := p.repository.CommitAndPush(ctx, run.workingCopy, pkgbuild.Files(run.result.Artifact), message)
	if err != nil {
		return StateFailed, err
	}

	return StateDone, nil
}

// predates reports whether snapshot version a is older than b.
// Versions that are not snapshot timestamps are never ordered.
func predates(a, b string) bool {
	at, err := time.ParseInLocation(release.VersionLayout, a, time.UTC)
	if err != nil {
		return false
	}

	bt, err := time.ParseInLocation(release.VersionLayout, b, time.UTC)
	if err != nil {
		return false
	}

	return at.Before(bt)
}

// CommitMessage is the message of the commit publishing version.
func CommitMessage(version string) string {
	return "Update to " + version
}
