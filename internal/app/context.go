// Package app wires a workspace into a ready-to-use engine. Both the CLI
// and the test harness go through OpenWorkspace so store setup, migrations
// and config loading happen exactly one way.
package app

import (
	"database/sql"
	"os"

	"papertrail/internal/config"
	"papertrail/internal/db"
	"papertrail/internal/engine"
	"papertrail/internal/migrate"
	"papertrail/internal/repo"
)

// Context holds everything a command needs to work against a workspace.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Repo   repo.Repo
	Engine engine.Engine
}

// OpenWorkspace opens the store at workspace, applies pending migrations,
// and loads papertrail.yaml. A missing config file falls back to defaults
// so a freshly initialized workspace works without one.
func OpenWorkspace(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.New(conn)
	return &Context{
		DB:     conn,
		Config: cfg,
		Repo:   r,
		Engine: engine.New(r, cfg),
	}, nil
}

// Close releases the workspace store.
func (c *Context) Close() error {
	return c.DB.Close()
}

// EnsureConfigFile writes the default papertrail.yaml when none exists.
// It returns the config path and whether a file was created.
func EnsureConfigFile(workspace string) (string, bool, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return path, false, err
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return path, false, err
	}
	return path, true, nil
}
