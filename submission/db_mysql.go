package submission

import (
	"context"
	"database/sql"
	"log"

	// no _ in import mysql since we need mysql.NullTime
	"github.com/BurntSushi/migration"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/ndlib/paperstore/chunk"
)

// This file implements the record database on MySQL.

type mysqlDB struct {
	db *sql.DB
}

var _ DB = &mysqlDB{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

// NewMysqlDB connects to a MySQL database, bringing its schema up to date.
func NewMysqlDB(dial string) (DB, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &mysqlDB{db: db}, nil
}

func (ms *mysqlDB) Insert(ctx context.Context, s Submission) error {
	const stmt = `INSERT INTO submissions
		(id, title, noauthors, authors, document_type, abstract, blob_id, submitted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	r, err := toRow(s)
	if err != nil {
		return err
	}
	_, err = ms.db.ExecContext(ctx, stmt,
		r.ID, r.Title, r.NoAuthors, r.authors, r.DocumentType, r.Abstract, r.blobID, r.Submitted.UTC())
	if err != nil {
		log.Printf("Submission: %s", err.Error())
	}
	return err
}

const mysqlColumns = `id, title, noauthors, authors, document_type, abstract, blob_id, submitted`

func mysqlScan(sc scanner) (Submission, error) {
	var r row
	var when mysql.NullTime
	err := sc.Scan(&r.ID, &r.Title, &r.NoAuthors, &r.authors, &r.DocumentType, &r.Abstract, &r.blobID, &when)
	if err != nil {
		return Submission{}, err
	}
	if when.Valid {
		r.Submitted = when.Time
	}
	return r.decode()
}

func (ms *mysqlDB) Lookup(ctx context.Context, id string) (Submission, error) {
	const query = `SELECT ` + mysqlColumns + ` FROM submissions WHERE id = ? LIMIT 1`

	s, err := mysqlScan(ms.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return Submission{}, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return s, err
}

func (ms *mysqlDB) List(ctx context.Context) ([]Submission, error) {
	const query = `SELECT ` + mysqlColumns + ` FROM submissions ORDER BY submitted`

	rows, err := ms.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Submission
	for rows.Next() {
		s, err := mysqlScan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (ms *mysqlDB) BlobIDs(ctx context.Context) ([]chunk.BlobID, error) {
	const query = `SELECT DISTINCT blob_id FROM submissions`

	rows, err := ms.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanBlobIDs(rows)
}

func (ms *mysqlDB) Close() error {
	return ms.db.Close()
}

// database migrations. each one is a go function. Add them to the
// list mysqlMigrations at top of this file for them to be run.

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS submissions (
		id varchar(36) PRIMARY KEY,
		title text,
		noauthors int,
		authors text,
		document_type varchar(255),
		abstract mediumtext,
		blob_id varchar(36),
		submitted datetime,
		INDEX submissions_blob (blob_id),
		INDEX submissions_submitted (submitted))`,
	}
	return execlist(tx, s)
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around mysql driver not handling compound exec statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}
