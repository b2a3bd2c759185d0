package cli

import (
	"database/sql"
	"fmt"

	"github.com/interact-space/database-safe-layer/internal/audit"
	"github.com/interact-space/database-safe-layer/internal/classify"
	"github.com/interact-space/database-safe-layer/internal/config"
	"github.com/interact-space/database-safe-layer/internal/db"
	"github.com/interact-space/database-safe-layer/internal/dryrun"
	"github.com/interact-space/database-safe-layer/internal/snapshot"
	"github.com/interact-space/database-safe-layer/internal/sqlast"
)

// app bundles the wired collaborators a command needs. Commands open only
// what they use: history and replay never touch the target database.
type app struct {
	cfg    *config.Config
	state  *db.DB
	target *sql.DB

	parser    *sqlast.PGParser
	registry  *classify.Registry
	classify  *classify.Classifier
	audit     *audit.Store
	estimator *dryrun.Estimator
	snapshots *snapshot.Manager
}

// openApp opens the state database and, when withTarget is set, the target
// database plus the estimator and snapshot manager built on it.
func openApp(withTarget bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	state, err := db.OpenAndMigrate(cfg.Database.StatePath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		state:    state,
		parser:   sqlast.NewPGParser(),
		registry: classify.NewRegistry(cfg.General.ProtectedTables),
		audit:    audit.NewStore(state.DB),
	}
	a.classify = classify.New(a.registry)

	if !withTarget {
		return a, nil
	}

	if cfg.Database.TargetPath == "" {
		state.Close()
		return nil, fmt.Errorf("no target database configured (set database.target_path or pass --database)")
	}
	target, err := db.OpenTarget(cfg.Database.TargetPath)
	if err != nil {
		state.Close()
		return nil, err
	}

	a.target = target
	a.estimator = dryrun.New(a.parser, target)
	a.snapshots = snapshot.NewManager(a.backend(), state)
	return a, nil
}

// backend maps the configured selector to a snapshot backend over the
// target database.
func (a *app) backend() snapshot.Backend {
	switch a.cfg.Snapshot.Backend {
	case config.BackendTransactional:
		return snapshot.NewTableCopyBackend(a.target)
	default:
		return snapshot.NewSQLiteFileBackend(a.cfg.Database.TargetPath, a.cfg.Snapshot.Dir, a.target)
	}
}

// Close releases both database handles.
func (a *app) Close() {
	if a.target != nil {
		_ = a.target.Close()
	}
	if a.state != nil {
		_ = a.state.Close()
	}
}
