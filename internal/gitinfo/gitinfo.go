// Package gitinfo wraps the git CLI to supply the branch name, author
// identity, short commit SHA, and diff statistics used when recording a
// transformation.
package gitinfo

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Client implements the recorder's version-control collaborator using the
// git CLI.
type Client struct {
	gitPath  string
	repoPath string
}

// New creates a Client rooted at repoPath. It verifies that git is available
// and that repoPath is inside a work tree.
func New(ctx context.Context, repoPath string) (*Client, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "-C", repoPath, "rev-parse", "--is-inside-work-tree")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s is not a git work tree: %w", repoPath, err)
	}

	return &Client{gitPath: gitPath, repoPath: repoPath}, nil
}

// Branch returns the current branch name
func (c *Client) Branch(ctx context.Context) (string, error) {
	return c.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Author returns the configured author identity (user.name, falling back to
// user.email when the name is unset).
func (c *Client) Author(ctx context.Context) (string, error) {
	name, err := c.output(ctx, "config", "user.name")
	if err == nil && name != "" {
		return name, nil
	}
	email, err := c.output(ctx, "config", "user.email")
	if err != nil {
		return "", fmt.Errorf("no git author identity configured: %w", err)
	}
	return email, nil
}

// ShortSHA returns the 7-character lowercase hex short SHA of HEAD
func (c *Client) ShortSHA(ctx context.Context) (string, error) {
	sha, err := c.output(ctx, "rev-parse", "--short=7", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.ToLower(sha), nil
}

// DiffStats sums git diff --numstat for the given paths against HEAD.
// Binary files report "-" counts and are tallied as changed with zero lines.
func (c *Client) DiffStats(ctx context.Context, paths []string) (types.GitStats, error) {
	sha, err := c.ShortSHA(ctx)
	if err != nil {
		return types.GitStats{}, err
	}

	args := []string{"-C", c.repoPath, "diff", "--numstat", "HEAD", "--"}
	args = append(args, paths...)
	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	out, err := cmd.Output()
	if err != nil {
		return types.GitStats{}, fmt.Errorf("git diff --numstat failed: %w", err)
	}

	stats := types.GitStats{SHA: sha}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if added, err := strconv.Atoi(fields[0]); err == nil {
			stats.Additions += added
		}
		if deleted, err := strconv.Atoi(fields[1]); err == nil {
			stats.Deletions += deleted
		}
		stats.ChangedFiles++
	}
	if err := scanner.Err(); err != nil {
		return types.GitStats{}, fmt.Errorf("failed to parse numstat output: %w", err)
	}

	return stats, nil
}

// output runs a git subcommand in the repo and returns its trimmed stdout
func (c *Client) output(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", c.repoPath}, args...)
	cmd := exec.CommandContext(ctx, c.gitPath, full...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// FallbackSHA derives a stable 7-character lowercase hex reference from the
// patch id, used when no repository is available so transformation ids stay
// deterministic.
func FallbackSHA(patchID string) string {
	sum := sha256.Sum256([]byte(patchID))
	return hex.EncodeToString(sum[:])[:7]
}

// Static is a fixed-value version-control collaborator for environments
// without git (tests, containers without a checkout).
type Static struct {
	BranchName string
	AuthorName string
	SHA        string
	Stats      types.GitStats
}

// Branch returns the fixed branch name
func (s *Static) Branch(ctx context.Context) (string, error) { return s.BranchName, nil }

// Author returns the fixed author identity
func (s *Static) Author(ctx context.Context) (string, error) { return s.AuthorName, nil }

// ShortSHA returns the fixed short SHA
func (s *Static) ShortSHA(ctx context.Context) (string, error) {
	if s.SHA == "" {
		return "", fmt.Errorf("no SHA configured")
	}
	return s.SHA, nil
}

// DiffStats returns the fixed stats with the SHA filled in
func (s *Static) DiffStats(ctx context.Context, paths []string) (types.GitStats, error) {
	stats := s.Stats
	stats.SHA = s.SHA
	if stats.ChangedFiles == 0 {
		stats.ChangedFiles = len(paths)
	}
	return stats, nil
}
