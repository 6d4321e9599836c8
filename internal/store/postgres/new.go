package postgres

import (
	"database/sql"

	"chatrelay/internal/store"
	pkgLog "chatrelay/pkg/log"
)

type implStore struct {
	l  pkgLog.Logger
	db *sql.DB
}

var _ store.MessageStore = &implStore{}

func New(l pkgLog.Logger, db *sql.DB) *implStore {
	return &implStore{
		l:  l,
		db: db,
	}
}
