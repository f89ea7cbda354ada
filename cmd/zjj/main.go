// Command zjj is the per-repository multi-agent coordination control plane:
// sessions, the merge queue, agent registration, and session locks, all
// backed by one SQLite database (spec §1).
package main

import (
	"os"
	"runtime/debug"

	"github.com/lprior-repo/zjj/internal/commands"
	"github.com/lprior-repo/zjj/internal/models"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(models.ExitCodeForError(err))
	}
}
