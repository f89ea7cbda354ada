package workspacebridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes an external command and returns its stdout,
// classifying failures from stderr. Grounded on
// steveyegge-gastown's internal/archive/capture.go CommandRunner interface
// (mockable subprocess boundary), adapted from tmux invocation to the
// version-control tool spec §6 treats as an opaque subprocess.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout string, err error)
}

// ExecRunner is the default CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes name with args in dir and returns trimmed stdout, or on
// failure a plain error carrying the command line and stderr; the
// SubprocessBridge methods classify it into the error taxonomy.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// SubprocessBridge is the real Bridge implementation: it shells out to the
// repository's configured VCS binary (spec §6: "invoked as an opaque
// subprocess that can create a workspace, rebase, and show diffs").
type SubprocessBridge struct {
	// Binary is the VCS executable name or path (e.g. "jj", "git").
	Binary string
	// RepoRoot is the repository root all subprocess invocations run from
	// unless a more specific working directory applies.
	RepoRoot string
	Runner   CommandRunner
}

// NewSubprocessBridge constructs a SubprocessBridge with the default
// ExecRunner.
func NewSubprocessBridge(binary, repoRoot string) *SubprocessBridge {
	return &SubprocessBridge{Binary: binary, RepoRoot: repoRoot, Runner: ExecRunner{}}
}

var _ Bridge = (*SubprocessBridge)(nil)

func (b *SubprocessBridge) run(ctx context.Context, dir string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()
	return b.Runner.Run(cctx, dir, b.Binary, args...)
}

// CreateWorkspace shells out to create a new checkout at revision.
func (b *SubprocessBridge) CreateWorkspace(ctx context.Context, path, revision string) error {
	_, err := b.run(ctx, b.RepoRoot, "workspace", "add", path, "--revision", revision)
	if err != nil {
		return classifyRebaseError("io", path, revision, err.Error())
	}
	return nil
}

// Rebase shells out to rebase workspace's head onto targetRevision,
// classifying the failure mode from stderr text (conflict markers vs
// missing-ancestor vs generic I/O).
func (b *SubprocessBridge) Rebase(ctx context.Context, workspace, targetRevision string) (RebaseResult, error) {
	out, err := b.run(ctx, workspace, "rebase", "--destination", targetRevision)
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "conflict"):
			return RebaseResult{}, classifyRebaseError("conflict", workspace, targetRevision, msg)
		case strings.Contains(msg, "no common ancestor") || strings.Contains(msg, "unrelated history"):
			return RebaseResult{}, classifyRebaseError("no-common-ancestor", workspace, targetRevision, msg)
		default:
			return RebaseResult{}, classifyRebaseError("io", workspace, targetRevision, msg)
		}
	}

	newHead, headErr := b.WorkspaceHead(ctx, workspace)
	if headErr != nil {
		return RebaseResult{}, headErr
	}
	commitsRebased := countRebasedCommits(out)
	return RebaseResult{NewHeadSHA: newHead, CommitsRebased: commitsRebased}, nil
}

func countRebasedCommits(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Rebased") {
			n++
		}
	}
	return n
}

// Diff shells out to summarize file-level differences.
func (b *SubprocessBridge) Diff(ctx context.Context, fromRevision, toRevision string) (DiffSummary, error) {
	out, err := b.run(ctx, b.RepoRoot, "diff", "--from", fromRevision, "--to", toRevision, "--stat")
	if err != nil {
		return DiffSummary{}, classifyRebaseError("io", b.RepoRoot, toRevision, err.Error())
	}
	return parseDiffStat(out), nil
}

func parseDiffStat(out string) DiffSummary {
	var summary DiffSummary
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "|") {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		path := strings.TrimSpace(parts[0])
		if path == "" {
			continue
		}
		summary.Paths = append(summary.Paths, path)
		summary.FilesChanged++
		rest := parts[1]
		summary.Insertions += strings.Count(rest, "+")
		summary.Deletions += strings.Count(rest, "-")
	}
	return summary
}

// TrunkHead shells out to resolve the current head sha of trunk.
func (b *SubprocessBridge) TrunkHead(ctx context.Context, trunk string) (string, error) {
	out, err := b.run(ctx, b.RepoRoot, "log", "--revisions", trunk, "--template", "commit_id", "--no-graph", "--limit", "1")
	if err != nil {
		return "", classifyRebaseError("io", b.RepoRoot, trunk, err.Error())
	}
	return out, nil
}

// WorkspaceHead shells out to resolve the current head sha of workspace.
func (b *SubprocessBridge) WorkspaceHead(ctx context.Context, workspace string) (string, error) {
	out, err := b.run(ctx, workspace, "log", "--revisions", "@", "--template", "commit_id", "--no-graph", "--limit", "1")
	if err != nil {
		return "", classifyRebaseError("io", workspace, "@", err.Error())
	}
	return out, nil
}

// Merge shells out to merge workspace's head into trunk.
func (b *SubprocessBridge) Merge(ctx context.Context, workspace, trunk string) (MergeResult, error) {
	out, err := b.run(ctx, b.RepoRoot, "merge", "--into", trunk, "--from", workspace)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "conflict") {
			return MergeResult{}, classifyRebaseError("conflict", workspace, trunk, msg)
		}
		return MergeResult{}, classifyRebaseError("io", workspace, trunk, msg)
	}
	sha, shaErr := b.TrunkHead(ctx, trunk)
	if shaErr != nil {
		return MergeResult{}, shaErr
	}
	return MergeResult{MergeSHA: sha}, nil
}
