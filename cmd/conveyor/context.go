package main

import (
	"conveyor/internal/config"
	"conveyor/internal/db"
	"conveyor/internal/queue"
	"conveyor/internal/store"
)

// commandContext lazily loads configuration and opens the database so that
// commands like `config init` can run before any config exists.
type commandContext struct {
	configFlag *string

	cfg      *config.Config
	resolved string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolved, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.resolved = resolved
	return cfg, nil
}

// openStores opens the shared database and returns the store and queue views
// over it. The caller closes the returned database.
func (c *commandContext) openStores() (*db.DB, *store.Store, *queue.Queue, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, nil, err
	}
	database, err := db.Open(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return database, store.New(database), queue.New(database), nil
}
