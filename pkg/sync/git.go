package sync

import (
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// GitManager commits and pushes vault changes after writes.
type GitManager struct {
	RepoPath string
}

// NewGitManager creates a new GitManager for a vault that is a git
// repository.
func NewGitManager(repoPath string) *GitManager {
	return &GitManager{RepoPath: repoPath}
}

// Sync commits all changes in the vault and pushes to the remote.
func (g *GitManager) Sync(message string) error {
	r, err := git.PlainOpen(g.RepoPath)
	if err != nil {
		return fmt.Errorf("failed to open repo: %w", err)
	}

	w, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	if _, err = w.Add("."); err != nil {
		return fmt.Errorf("failed to add changes: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("Task sync: %s", time.Now().Format(time.RFC3339))
	}

	_, err = w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Task Sync",
			Email: "sync@tasksync.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	// go-git has no credential-helper support; try the default SSH key
	// and fall back to an unauthenticated push.
	home, _ := os.UserHomeDir()
	sshKeyPath := fmt.Sprintf("%s/.ssh/id_rsa", home)

	publicKeys, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, "")
	if err != nil {
		fmt.Printf("Warning: Could not load SSH key: %v. Trying push without explicit auth.\n", err)
		err = r.Push(&git.PushOptions{})
	} else {
		err = r.Push(&git.PushOptions{Auth: publicKeys})
	}

	if err != nil {
		if err == git.NoErrAlreadyUpToDate {
			return nil
		}
		return fmt.Errorf("failed to push: %w", err)
	}

	return nil
}
