package postgres

import (
	"database/sql"

	"chatrelay/internal/directory"
	pkgLog "chatrelay/pkg/log"
)

type implDirectory struct {
	l  pkgLog.Logger
	db *sql.DB
}

var _ directory.Directory = &implDirectory{}

func New(l pkgLog.Logger, db *sql.DB) *implDirectory {
	return &implDirectory{
		l:  l,
		db: db,
	}
}
