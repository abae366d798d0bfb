package aur

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
)

// defaultSSHUser is used when the remote URL names no user.
const defaultSSHUser = "git"

// authMethod loads the SSH identity for SSH remotes; other remotes need none.
func (m *Manager) authMethod() (transport.AuthMethod, error) {
	if m.sshKeyPath == "" {
		return nil, nil
	}

	user := defaultSSHUser

	if endpoint, err := transport.NewEndpoint(m.remoteURL); err == nil && endpoint.User != "" {
		user = endpoint.User
	}

	auth, err := ssh.NewPublicKeysFromFile(user, m.sshKeyPath, "")
	if err != nil {
		return nil, fmt.Errorf("load ssh key %s: %w", m.sshKeyPath, err)
	}

	return auth, nil
}

// remoteBranchExists lists the remote refs without touching the working copy.
// An empty remote has no branches.
func (m *Manager) remoteBranchExists(ctx context.Context, auth transport.AuthMethod) (bool, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: originRemote,
		URLs: []string{m.remoteURL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: auth})
	if err != nil {
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return false, nil
		}

		return false, fmt.Errorf("list remote refs: %w", err)
	}

	branch := plumbing.NewBranchReferenceName(m.branch)

	for _, ref := range refs {
		if ref.Name() == branch {
			return true, nil
		}
	}

	return false, nil
}

// openReusable opens workDir when it already holds a checkout of remoteURL.
func (m *Manager) openReusable() (*git.Repository, bool) {
	repo, err := git.PlainOpen(m.workDir)
	if err != nil {
		return nil, false
	}

	remote, err := repo.Remote(originRemote)
	if err != nil {
		return nil, false
	}

	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] != m.remoteURL {
		return nil, false
	}

	return repo, true
}

// fetch updates the tracking ref of the package branch.
func (m *Manager) fetch(ctx context.Context, repo *git.Repository, auth transport.AuthMethod) error {
	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: originRemote,
		RefSpecs:   []gitconfig.RefSpec{m.trackingRefSpec()},
		Auth:       auth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", m.branch, err)
	}

	return nil
}

// clone replaces workDir with a fresh clone of the package branch, without checking it out.
func (m *Manager) clone(ctx context.Context, auth transport.AuthMethod) (*git.Repository, error) {
	if err := m.resetWorkDir(); err != nil {
		return nil, err
	}

	repo, err := git.PlainCloneContext(ctx, m.workDir, false, &git.CloneOptions{
		URL:           m.remoteURL,
		RemoteName:    originRemote,
		ReferenceName: plumbing.NewBranchReferenceName(m.branch),
		SingleBranch:  true,
		NoCheckout:    true,
		Tags:          git.NoTags,
		Auth:          auth,
	})
	if err != nil {
		return nil, fmt.Errorf("clone %s: %w", m.remoteURL, err)
	}

	return repo, nil
}

// initEmpty replaces workDir with an empty repository whose origin is remoteURL.
func (m *Manager) initEmpty() (*git.Repository, error) {
	if err := m.resetWorkDir(); err != nil {
		return nil, err
	}

	repo, err := git.PlainInit(m.workDir, false)
	if err != nil {
		return nil, fmt.Errorf("init working copy: %w", err)
	}

	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: originRemote,
		URLs: []string{m.remoteURL},
	})
	if err != nil {
		return nil, fmt.Errorf("add remote %s: %w", originRemote, err)
	}

	return repo, nil
}

func (m *Manager) resetWorkDir() error {
	if err := os.RemoveAll(m.workDir); err != nil {
		return fmt.Errorf("remove working directory: %w", err)
	}

	if err := os.MkdirAll(m.workDir, dirMode); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	return nil
}

// trackingRefSpec maps the package branch onto its remote-tracking ref.
func (m *Manager) trackingRefSpec() gitconfig.RefSpec {
	return gitconfig.RefSpec(fmt.Sprintf("+%s:%s",
		plumbing.NewBranchReferenceName(m.branch),
		plumbing.NewRemoteReferenceName(originRemote, m.branch)))
}

// pushRefSpec publishes the local branch to the same name on the remote.
func (m *Manager) pushRefSpec() gitconfig.RefSpec {
	branch := plumbing.NewBranchReferenceName(m.branch)

	return gitconfig.RefSpec(fmt.Sprintf("%s:%s", branch, branch))
}

// signature is the commit identity; nil lets git configuration decide.
func (m *Manager) signature() *object.Signature {
	if m.authorName == "" && m.authorEmail == "" {
		return nil
	}

	return &object.Signature{
		Name:  m.authorName,
		Email: m.authorEmail,
		When:  time.Now(),
	}
}
