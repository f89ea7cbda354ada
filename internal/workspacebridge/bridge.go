// Package workspacebridge defines the Workspace Bridge abstract interface
// (spec §6 "Workspace Bridge contract"): create an isolated checkout,
// rebase a checkout's head onto a revision, summarize diffs, report trunk
// head, merge a checkout into trunk. The version-control tool itself is
// invoked as an opaque subprocess per spec §1 ("the underlying
// version-control tool ... is interface-only"); this package owns only the
// contract plus two implementations (spec §9 "Dynamic dispatch": "provide
// at least two implementations ... so the core's state machines can be
// tested without invoking the external tool").
package workspacebridge

import (
	"context"
	"time"

	"github.com/lprior-repo/zjj/internal/models"
)

// RebaseResult is returned by a successful Rebase call.
type RebaseResult struct {
	NewHeadSHA     string
	CommitsRebased int
}

// DiffSummary describes file-level differences between two revisions.
type DiffSummary struct {
	FilesChanged int
	Insertions   int
	Deletions    int
	Paths        []string
}

// MergeResult is returned by a successful Merge call.
type MergeResult struct {
	MergeSHA string
}

// Bridge is the abstract interface to the version-control tool
// (spec §6 "Workspace Bridge contract").
type Bridge interface {
	// CreateWorkspace creates an isolated checkout of the repository at
	// revision (a named bookmark/branch) at path.
	CreateWorkspace(ctx context.Context, path, revision string) error

	// Rebase rebases workspace's head onto targetRevision. Returns a
	// classified error on failure: WorkspaceConflictError (retryable with
	// manual resolution), WorkspaceNoCommonAncestorError (fatal), or
	// WorkspaceIOError (retryable).
	Rebase(ctx context.Context, workspace, targetRevision string) (RebaseResult, error)

	// Diff summarizes file-level differences between two revisions.
	Diff(ctx context.Context, fromRevision, toRevision string) (DiffSummary, error)

	// TrunkHead reports the current head sha of the named trunk ref.
	TrunkHead(ctx context.Context, trunk string) (string, error)

	// WorkspaceHead reports the current head sha of a workspace's checkout.
	WorkspaceHead(ctx context.Context, workspace string) (string, error)

	// Merge merges workspace's head into trunk, producing a merge commit.
	Merge(ctx context.Context, workspace, trunk string) (MergeResult, error)
}

// classifyRebaseError is a shared helper real/fake implementations can use
// to map a detected condition to the spec §6/§7 error taxonomy.
func classifyRebaseError(kind string, workspace, target, detail string) error {
	switch kind {
	case "conflict":
		return models.NewWorkspaceConflictError(workspace)
	case "no-common-ancestor":
		return models.NewWorkspaceNoCommonAncestorError(workspace, target)
	default:
		return models.NewWorkspaceIOError(workspace, detail)
	}
}

// DefaultCommandTimeout bounds a single subprocess invocation; spec §5 notes
// "No global deadline is imposed on a merge operation" at the worker-step
// level, but an individual VCS subprocess call still needs a sane ceiling so
// a hung child process cannot wedge the single-writer worker forever.
const DefaultCommandTimeout = 2 * time.Minute
