package repomanager

import (
	"context"
	"database/sql"

	"github.com/avoronov/userdir/internal/dbx"
	"github.com/avoronov/userdir/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to either the
// shared *sql.DB or a transaction handle, and exposes a schema migration
// hook run at startup.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
