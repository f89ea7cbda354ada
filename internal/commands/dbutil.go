package commands

import (
	"database/sql"

	"github.com/lprior-repo/zjj/internal/agentregistry"
	"github.com/lprior-repo/zjj/internal/app"
	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/conflictlog"
	"github.com/lprior-repo/zjj/internal/coordinator"
	"github.com/lprior-repo/zjj/internal/lockmanager"
	"github.com/lprior-repo/zjj/internal/mergequeue"
	"github.com/lprior-repo/zjj/internal/output"
	"github.com/lprior-repo/zjj/internal/sessionrepo"
	"github.com/lprior-repo/zjj/internal/store"
	"github.com/lprior-repo/zjj/internal/workspacebridge"
)

// DB is an alias so command code doesn't need to import database/sql directly.
type DB = sql.DB

// printedError marks an error cmdErr has already rendered (JSON envelope on
// stdout, or one human line on stderr), so Execute doesn't render it a
// second time.
type printedError struct{ err error }

func (e printedError) Error() string { return "error already printed" }
func (e printedError) Unwrap() error { return e.err }

func openDB() (*DB, func(), error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = store.CloseDB(db) }, nil
}

func withDB(fn func(db *DB) error) error {
	db, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()

	if err := fn(db); err != nil {
		return cmdErr(err)
	}
	return nil
}

// components bundles every store-layer component the Coordinator composes,
// built over one shared db handle and the effective runtime settings.
type components struct {
	Sessions  *sessionrepo.Repo
	Agents    *agentregistry.Registry
	Locks     *lockmanager.Manager
	Queue     *mergequeue.Queue
	Coord     *coordinator.Coordinator
	Conflicts *conflictlog.Log
	Settings  app.EffectiveSettings
}

func buildComponents(db *DB, settings app.EffectiveSettings) *components {
	clk := clock.SystemClock{}
	sessions := sessionrepo.New(db, clk)
	agents := agentregistry.New(db, clk)
	locks := lockmanager.New(db, clk)
	queue := mergequeue.New(db, clk, settings.MaxAttempts, settings.MaxStackDepth)
	bridge := workspacebridge.NewSubprocessBridge(settings.VCSBinary, settings.WorkspacesRoot)
	coord := coordinator.New(sessions, agents, locks, queue, bridge, clk, settings.Trunk, settings.SessionLockTTL, settings.ProcessingLockTTL)
	conflicts := conflictlog.New(db, clk)
	return &components{Sessions: sessions, Agents: agents, Locks: locks, Queue: queue, Coord: coord, Conflicts: conflicts, Settings: settings}
}

// withComponents opens the repository database, resolves effective runtime
// settings, and wires every store-layer component plus the Coordinator
// before invoking fn. Every subcommand that touches state goes through this.
func withComponents(fn func(c *components) error) error {
	return withDB(func(db *DB) error {
		return fn(buildComponents(db, app.EffectiveRuntimeSettings()))
	})
}

// cmdErr renders the failure (spec §7: JSON envelope on stdout in JSON mode,
// one-line stderr message in human mode — either way stderr must not also
// carry a separate log line) and returns a printedError so Execute's
// top-level handler doesn't render it a second time.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	if renderErr := output.PrintError(err); renderErr != nil {
		return renderErr
	}
	return printedError{err: err}
}
