// Package db implements the opening and graceful closing of database connections.
package db

import (
	"fmt"

	"github.com/tarancss/lnnode/lib/store"
	"github.com/tarancss/lnnode/lib/store/file"
	"github.com/tarancss/lnnode/lib/store/mongo"
	"github.com/tarancss/lnnode/lib/store/postgres"
)

const (
	FILE     string = "file"
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// New returns a new database connection according to the options (database type). The file store writes under
// dataDir and ignores connection.
func New(options, connection, dataDir string) (store.DB, error) {
	switch options {
	case FILE:
		return file.New(dataDir)
	case MONGODB:
		return mongo.New(connection)
	case POSTGRES:
		return postgres.New(connection)
	}

	return nil, fmt.Errorf("unknown database type %q", options)
}

// Close gracefully closes the database connection.
func Close(options string, dh store.DB) error {
	switch options {
	case FILE:
		return dh.(*file.File).CloseFile()
	case MONGODB:
		return dh.(*mongo.Mongo).CloseMongo()
	case POSTGRES:
		return dh.(*postgres.Postgres).ClosePostgres()
	}

	return nil
}
