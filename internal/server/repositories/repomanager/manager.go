// Package repomanager vends the PostgreSQL repositories bound to a
// connection or transaction and runs the schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/creat233/finderid/internal/dbx"
	"github.com/creat233/finderid/internal/server/repositories/refreshtokens"
	"github.com/creat233/finderid/internal/server/repositories/rows"
	"github.com/creat233/finderid/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Rows(db dbx.DBTX) rows.Repository
}
