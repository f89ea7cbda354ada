package workspacebridge

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a FAKE with SPY capabilities for the Bridge interface (Meszaros/
// Fowler test-double taxonomy), grounded on steveyegge-gastown's
// internal/session/double.go — an in-memory working implementation that
// records calls instead of driving a real subprocess, letting the core
// state machines in sessionrepo/mergequeue/coordinator be tested without
// invoking the external VCS tool (spec §9 "Dynamic dispatch").
type Fake struct {
	mu sync.Mutex

	// TrunkSHA is the current trunk head; call AdvanceTrunk to move it.
	TrunkSHA string

	workspaces map[string]*fakeWorkspace

	// Calls records every method invocation in order, for assertions.
	Calls []string

	// Inject* let tests force a specific classified failure on the next
	// matching call.
	InjectRebaseConflict   map[string]bool
	InjectNoCommonAncestor map[string]bool
	InjectIOError          map[string]bool
}

type fakeWorkspace struct {
	path string
	head string
}

// NewFake creates a new in-memory Bridge test double seeded with trunkSHA.
func NewFake(trunkSHA string) *Fake {
	return &Fake{
		TrunkSHA:               trunkSHA,
		workspaces:             make(map[string]*fakeWorkspace),
		InjectRebaseConflict:   make(map[string]bool),
		InjectNoCommonAncestor: make(map[string]bool),
		InjectIOError:          make(map[string]bool),
	}
}

var _ Bridge = (*Fake)(nil)

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// CreateWorkspace registers an in-memory workspace at the current trunk
// head (revision is accepted but the fake always starts from trunk, which
// is sufficient for exercising the core state machines).
func (f *Fake) CreateWorkspace(_ context.Context, path, revision string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("CreateWorkspace(%s,%s)", path, revision))
	f.workspaces[path] = &fakeWorkspace{path: path, head: f.TrunkSHA}
	return nil
}

// Rebase simulates a rebase: by default it fast-forwards the workspace's
// recorded head to targetRevision. Tests force failures via the Inject*
// maps keyed by workspace name.
func (f *Fake) Rebase(_ context.Context, workspace, targetRevision string) (RebaseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("Rebase(%s,%s)", workspace, targetRevision))

	if f.InjectRebaseConflict[workspace] {
		delete(f.InjectRebaseConflict, workspace)
		return RebaseResult{}, classifyRebaseError("conflict", workspace, targetRevision, "simulated conflict")
	}
	if f.InjectNoCommonAncestor[workspace] {
		delete(f.InjectNoCommonAncestor, workspace)
		return RebaseResult{}, classifyRebaseError("no-common-ancestor", workspace, targetRevision, "simulated missing ancestor")
	}
	if f.InjectIOError[workspace] {
		delete(f.InjectIOError, workspace)
		return RebaseResult{}, classifyRebaseError("io", workspace, targetRevision, "simulated io error")
	}

	ws, ok := f.workspaces[workspace]
	if !ok {
		ws = &fakeWorkspace{path: workspace}
		f.workspaces[workspace] = ws
	}
	ws.head = targetRevision
	return RebaseResult{NewHeadSHA: ws.head, CommitsRebased: 1}, nil
}

// Diff returns a fixed, non-empty summary; the fake does not model file
// content, only presence of a diff between two distinct revisions.
func (f *Fake) Diff(_ context.Context, fromRevision, toRevision string) (DiffSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("Diff(%s,%s)", fromRevision, toRevision))
	if fromRevision == toRevision {
		return DiffSummary{}, nil
	}
	return DiffSummary{FilesChanged: 1, Insertions: 1, Deletions: 0, Paths: []string{"file.txt"}}, nil
}

// TrunkHead returns the fake's current trunk sha.
func (f *Fake) TrunkHead(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TrunkHead()")
	return f.TrunkSHA, nil
}

// WorkspaceHead returns the recorded head of workspace, or the trunk head if
// the workspace was never created (permissive, for tests that skip
// CreateWorkspace).
func (f *Fake) WorkspaceHead(_ context.Context, workspace string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("WorkspaceHead(%s)", workspace))
	if ws, ok := f.workspaces[workspace]; ok {
		return ws.head, nil
	}
	return f.TrunkSHA, nil
}

// Merge advances the fake's trunk head to a new synthetic merge sha and
// returns it.
func (f *Fake) Merge(_ context.Context, workspace, trunk string) (MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("Merge(%s,%s)", workspace, trunk))
	f.TrunkSHA = fmt.Sprintf("merge-%s-into-%s", workspace, f.TrunkSHA)
	return MergeResult{MergeSHA: f.TrunkSHA}, nil
}

// AdvanceTrunk moves the fake's trunk head forward, simulating another
// agent's merge landing between this workspace's rebase and its own merge —
// the scenario spec §8 Seed Scenario 3 exercises.
func (f *Fake) AdvanceTrunk(newSHA string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TrunkSHA = newSHA
}
