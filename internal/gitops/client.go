// Package gitops wraps the git CLI for the optional snapshot-commit
// policy. Commits are gated by the secret scanner upstream; this layer
// only stages and commits what it is given.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/loa-labs/flatline/internal/core"
)

// Client wraps git CLI operations.
type Client struct {
	repoPath string
	timeout  time.Duration
}

// NewClient creates a git client for the repository at repoPath.
func NewClient(repoPath string) (*Client, error) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	client := &Client{
		repoPath: absPath,
		timeout:  30 * time.Second,
	}

	if err := client.verifyRepo(); err != nil {
		return nil, err
	}
	return client, nil
}

// verifyRepo checks if path is a git repository.
func (c *Client) verifyRepo() error {
	_, err := c.run(context.Background(), "rev-parse", "--git-dir")
	if err != nil {
		return core.ErrInvalidArgument("NOT_GIT_REPO", fmt.Sprintf("%s is not a git repository", c.repoPath))
	}
	return nil
}

// run executes a git command.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timed out", strings.Join(args, " "))
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommitFiles stages the given paths and commits them. When withHooks is
// false the commit bypasses local hooks (--no-verify), matching the
// snapshot-commit policy default.
func (c *Client) CommitFiles(ctx context.Context, message string, withHooks bool, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	addArgs := append([]string{"add", "--"}, paths...)
	if _, err := c.run(ctx, addArgs...); err != nil {
		return fmt.Errorf("staging snapshot files: %w", err)
	}

	commitArgs := []string{"commit", "-m", message}
	if !withHooks {
		commitArgs = append(commitArgs, "--no-verify")
	}
	commitArgs = append(commitArgs, "--")
	commitArgs = append(commitArgs, paths...)
	if _, err := c.run(ctx, commitArgs...); err != nil {
		return fmt.Errorf("committing snapshot files: %w", err)
	}
	return nil
}

// Committer commits snapshot files to version control. The store treats
// it as optional: absence of a repository disables the policy.
type Committer interface {
	CommitFiles(ctx context.Context, message string, withHooks bool, paths ...string) error
}

var _ Committer = (*Client)(nil)
