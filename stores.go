package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vrschool-media/config"
	"vrschool-media/content"
	"vrschool-media/database"
	"vrschool-media/identities"
)

// openStores connects the configured backend and returns both stores with a
// function that releases the connection.
func openStores(ctx context.Context, cfg config.DatabaseConfig) (identities.Store, content.Store, func(), error) {
	switch cfg.Backend {
	case "mongo":
		client, err := database.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, nil, err
		}
		db := client.Database(cfg.MongoDB)
		idents := identities.NewMongoStore(db)
		contents := content.NewMongoStore(db)
		if err := idents.EnsureIndexes(ctx); err != nil {
			database.DisconnectMongo(client)
			return nil, nil, nil, fmt.Errorf("identity indexes: %w", err)
		}
		if err := contents.EnsureIndexes(ctx); err != nil {
			database.DisconnectMongo(client)
			return nil, nil, nil, fmt.Errorf("content indexes: %w", err)
		}
		log.Infof("using mongo database %s", cfg.MongoDB)
		return idents, contents, func() { database.DisconnectMongo(client) }, nil

	case "sqlite", "":
		err := os.MkdirAll(config.GetConfigDir(), 0700)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create config dir %s: %w", config.GetConfigDir(), err)
		}
		dbPath := filepath.Join(config.GetConfigDir(), "media.db")
		db, err := database.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to database %s: %w", dbPath, err)
		}
		database.Init(db, log)

		idents := identities.NewGormStore(db)
		contents := content.NewGormStore(db)
		if err := idents.Migrate(); err != nil {
			database.Fini()
			return nil, nil, nil, err
		}
		if err := contents.Migrate(); err != nil {
			database.Fini()
			return nil, nil, nil, err
		}
		log.Infof("using sqlite database %s", dbPath)
		return idents, contents, database.Fini, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
}
