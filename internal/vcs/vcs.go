// Package vcs wraps go-git to answer the two questions the Freshness
// Resolver needs: the current revision, and whether the working tree is
// dirty under a set of paths. The teacher has no git integration at
// all; this is grounded on the go-git usage pattern in the example
// pack's inful-docbuilder repo.
package vcs

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
)

// Repo wraps an open git repository, or reports NotAGitRepo for
// projects that don't use git — the runner treats that as "skip the
// VCS staleness check" rather than an error.
type Repo struct {
	repo *git.Repository
}

// ErrNotAGitRepo indicates projectRoot is not inside a git work tree.
var ErrNotAGitRepo = fmt.Errorf("not a git repository")

// Open opens the repository containing projectRoot, searching parent
// directories the way `git` itself does.
func Open(projectRoot string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(projectRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if err == git.ErrRepositoryNotExists {
			return nil, ErrNotAGitRepo
		}
		return nil, fmt.Errorf("open git repository: %w", err)
	}
	return &Repo{repo: repo}, nil
}

// HeadHash returns the current HEAD commit hash.
func (r *Repo) HeadHash() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// IsDirtyUnder reports whether the working tree has unstaged or staged
// changes under any of the given paths (relative to the repo root).
func (r *Repo) IsDirtyUnder(paths []string) (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("read worktree status: %w", err)
	}
	if len(paths) == 0 {
		return !status.IsClean(), nil
	}
	for file := range status {
		if matchesAnyPrefix(file, paths) {
			return true, nil
		}
	}
	return false, nil
}

func matchesAnyPrefix(file string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(strings.TrimSuffix(p, "/**"), "/*")
		if strings.HasPrefix(file, p) {
			return true
		}
	}
	return false
}
