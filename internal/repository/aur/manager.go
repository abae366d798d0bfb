package aur

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/oshokin/aur-wayback-updater/internal/checksum"
	"github.com/oshokin/aur-wayback-updater/internal/config"
	"github.com/oshokin/aur-wayback-updater/internal/domain/release"
	"github.com/oshokin/aur-wayback-updater/internal/logger"
	"github.com/oshokin/aur-wayback-updater/internal/pkgbuild"
)

const (
	// originRemote is the name the remote is cloned under.
	originRemote = "origin"
	// fileMode is used for files written into the working copy.
	fileMode os.FileMode = 0o644
	// dirMode is used for the working copy directory.
	dirMode os.FileMode = 0o755
)

var errInvalidFileName = errors.New("file name must be a plain name at the working copy root")

// Manager keeps a local working copy in line with one branch of a remote.
type Manager struct {
	// remoteURL is cloned from and pushed to.
	remoteURL string
	// branch receives the updates.
	branch string
	// workDir is the disposable working copy.
	workDir string
	// sshKeyPath is only used for SSH remotes.
	sshKeyPath string
	// authorName and authorEmail override the git identity when set.
	authorName  string
	authorEmail string
}

// WorkingCopy is a synchronized checkout of the package branch.
type WorkingCopy struct {
	// Dir is the root of the checkout.
	Dir string
	// Branch is the checked out branch.
	Branch string
	// Head is the commit the branch points at; empty when Unborn.
	Head string
	// Unborn is true when the remote branch has no commits yet.
	Unborn bool
}

// New creates a Manager from validated settings.
func New(cfg *config.Config) *Manager {
	m := &Manager{
		remoteURL:   cfg.RemoteURL,
		branch:      cfg.Branch,
		workDir:     filepath.Clean(cfg.WorkDir),
		authorName:  cfg.CommitAuthorName,
		authorEmail: cfg.CommitAuthorEmail,
	}

	if config.IsSSHRemote(cfg.RemoteURL) {
		m.sshKeyPath = cfg.SSHKeyPath
	}

	return m
}

// Sync makes the working copy identical to the remote branch.
// An existing checkout of the same remote is fetched and hard reset,
// anything else in the working directory is replaced by a fresh clone.
// A remote without the branch yields an unborn branch with an empty tree.
func (m *Manager) Sync(ctx context.Context) (*WorkingCopy, error) {
	ctx = logger.WithKV(ctx, "work_dir", m.workDir, "branch", m.branch)

	wc, err := m.sync(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepoSync, err)
	}

	logger.InfoKV(ctx, "Working copy synchronized", "head", wc.Head, "unborn", wc.Unborn)

	return wc, nil
}

func (m *Manager) sync(ctx context.Context) (*WorkingCopy, error) {
	auth, err := m.authMethod()
	if err != nil {
		return nil, err
	}

	exists, err := m.remoteBranchExists(ctx, auth)
	if err != nil {
		return nil, err
	}

	if !exists {
		logger.Info(ctx, "Remote branch does not exist yet, starting from an empty tree")

		return m.checkoutUnbornBranch()
	}

	repo, ok := m.openReusable()
	if ok {
		logger.Debug(ctx, "Fetching into the existing working copy")

		if err = m.fetch(ctx, repo, auth); err != nil {
			return nil, err
		}
	} else {
		logger.InfoKV(ctx, "Cloning package repository", "remote", m.remoteURL)

		if repo, err = m.clone(ctx, auth); err != nil {
			return nil, err
		}
	}

	return m.checkoutRemoteBranch(repo)
}

// checkoutRemoteBranch points the local branch at its remote-tracking ref
// and discards every local change, tracked or not.
func (m *Manager) checkoutRemoteBranch(repo *git.Repository) (*WorkingCopy, error) {
	tracking, err := repo.Reference(plumbing.NewRemoteReferenceName(originRemote, m.branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve %s/%s: %w", originRemote, m.branch, err)
	}

	branch := plumbing.NewBranchReferenceName(m.branch)

	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, tracking.Hash())); err != nil {
		return nil, fmt.Errorf("update %s: %w", branch, err)
	}

	if err = repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); err != nil {
		return nil, fmt.Errorf("point HEAD at %s: %w", branch, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}

	if err = worktree.Reset(&git.ResetOptions{Commit: tracking.Hash(), Mode: git.HardReset}); err != nil {
		return nil, fmt.Errorf("reset to %s: %w", tracking.Hash(), err)
	}

	if err = worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return nil, fmt.Errorf("clean worktree: %w", err)
	}

	return &WorkingCopy{
		Dir:    m.workDir,
		Branch: m.branch,
		Head:   tracking.Hash().String(),
	}, nil
}

// checkoutUnbornBranch starts an empty repository whose HEAD names a branch without commits.
func (m *Manager) checkoutUnbornBranch() (*WorkingCopy, error) {
	repo, err := m.initEmpty()
	if err != nil {
		return nil, err
	}

	branch := plumbing.NewBranchReferenceName(m.branch)

	if err = repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branch)); err != nil {
		return nil, fmt.Errorf("point HEAD at %s: %w", branch, err)
	}

	return &WorkingCopy{
		Dir:    m.workDir,
		Branch: m.branch,
		Unborn: true,
	}, nil
}

// ReadPublishedState parses the manifest of the working copy.
// A working copy without a manifest has never been published and yields nil.
func (m *Manager) ReadPublishedState(ctx context.Context, wc *WorkingCopy) (*release.PublishedState, error) {
	file, err := os.Open(filepath.Join(wc.Dir, pkgbuild.ManifestFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info(ctx, "No published manifest found")

			return nil, nil
		}

		return nil, fmt.Errorf("open %s: %w", pkgbuild.ManifestFilename, err)
	}

	defer func() {
		_ = file.Close()
	}()

	state, err := pkgbuild.Parse(file)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Read published state", "version", state.Version, "digest", state.Digest)

	if !checksum.IsDigest(state.Digest) {
		logger.WarnKV(ctx, "Published checksum is not a sha256 digest, the package will be regenerated",
			"checksum", state.Digest)
	}

	return state, nil
}

// CommitAndPush writes files to the working copy, commits them with message
// and pushes the commit to the remote branch. When the files match what is
// already committed nothing is committed or pushed.
func (m *Manager) CommitAndPush(
	ctx context.Context,
	wc *WorkingCopy,
	files []release.File,
	message string,
) error {
	repo, err := git.PlainOpen(wc.Dir)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrRepoCommit, wc.Dir, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: open worktree: %w", ErrRepoCommit, err)
	}

	if err = writeFiles(wc.Dir, files); err != nil {
		return fmt.Errorf("%w: %w", ErrRepoCommit, err)
	}

	if err = worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("%w: stage files: %w", ErrRepoCommit, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("%w: status: %w", ErrRepoCommit, err)
	}

	if status.IsClean() {
		logger.Info(ctx, "Nothing to commit, the working copy already matches")

		return nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{Author: m.signature()})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRepoCommit, err)
	}

	logger.InfoKV(ctx, "Committed", "message", message, "commit", hash.String())

	auth, err := m.authMethod()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRepoPush, err)
	}

	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: originRemote,
		RefSpecs:   []gitconfig.RefSpec{m.pushRefSpec()},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("%w: %w", ErrRepoPush, err)
	}

	logger.InfoKV(ctx, "Pushed", "remote", m.remoteURL, "branch", wc.Branch)

	return nil
}

func writeFiles(dir string, files []release.File) error {
	for _, file := range files {
		if file.Name == "" || file.Name != filepath.Base(file.Name) || file.Name == ".." || file.Name == "." {
			return fmt.Errorf("%w: %q", errInvalidFileName, file.Name)
		}

		if err := os.WriteFile(filepath.Join(dir, file.Name), file.Data, fileMode); err != nil {
			return fmt.Errorf("write %s: %w", file.Name, err)
		}
	}

	return nil
}
