// Package revision reports which commit of a scraper's source a run
// is built from.
package revision

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Source reports the current revision of the code at repoPath.
type Source interface {
	Revision(ctx context.Context, repoPath string) (string, error)
}

// Git reads revisions from git repositories. A directory that is
// not a repository, or one without commits, has no revision.
type Git struct{}

// Revision implements Source.
func (Git) Revision(ctx context.Context, repoPath string) (string, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: false})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return head.Hash().String(), nil
}
