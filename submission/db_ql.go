package submission

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/cznic/ql/driver"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ndlib/paperstore/chunk"
)

// This file implements the record database using the QL embedded database.
// It needs no server and is the default.

type qlDB struct {
	db *sql.DB
}

var _ DB = &qlDB{}

const qlInit = `
	CREATE TABLE IF NOT EXISTS submissions (
		id string,
		title string,
		noauthors int,
		authors string,
		documenttype string,
		abstract string,
		blobid string,
		submitted time
	);
	CREATE INDEX IF NOT EXISTS submissionid ON submissions (id);
	CREATE INDEX IF NOT EXISTS submissionblob ON submissions (blobid);
	CREATE INDEX IF NOT EXISTS submissiontime ON submissions (submitted);
`

// NewQlDB opens a QL record database. filename is the name of the file to
// save the database to. The filename "memory" means to keep everything in
// memory; each such database is separate from every other.
func NewQlDB(filename string) (DB, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem-"+uuid.New().String()+".db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(context.Background(), db, qlInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlDB{db: db}, nil
}

func (qd *qlDB) Insert(ctx context.Context, s Submission) error {
	const dbInsert = `INSERT INTO submissions VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`
	r, err := toRow(s)
	if err != nil {
		return err
	}
	_, err = performExec(ctx, qd.db, dbInsert,
		r.ID, r.Title, int64(r.NoAuthors), r.authors, r.DocumentType, r.Abstract, r.blobID, r.Submitted)
	if err != nil {
		log.Printf("Submission QL: %s", err.Error())
	}
	return err
}

const qlColumns = `id, title, noauthors, authors, documenttype, abstract, blobid, submitted`

func qlScan(sc scanner) (Submission, error) {
	var r row
	var n int64
	err := sc.Scan(&r.ID, &r.Title, &n, &r.authors, &r.DocumentType, &r.Abstract, &r.blobID, &r.Submitted)
	if err != nil {
		return Submission{}, err
	}
	r.NoAuthors = int(n)
	return r.decode()
}

func (qd *qlDB) Lookup(ctx context.Context, id string) (Submission, error) {
	const dbLookup = `SELECT ` + qlColumns + ` FROM submissions WHERE id == ?1 LIMIT 1`

	s, err := qlScan(qd.db.QueryRowContext(ctx, dbLookup, id))
	if err == sql.ErrNoRows {
		return Submission{}, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return s, err
}

func (qd *qlDB) List(ctx context.Context) ([]Submission, error) {
	const dbList = `SELECT ` + qlColumns + ` FROM submissions ORDER BY submitted`

	rows, err := qd.db.QueryContext(ctx, dbList)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Submission
	for rows.Next() {
		s, err := qlScan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (qd *qlDB) BlobIDs(ctx context.Context) ([]chunk.BlobID, error) {
	const query = `SELECT DISTINCT blobid FROM submissions`

	rows, err := qd.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanBlobIDs(rows)
}

func (qd *qlDB) Close() error {
	return qd.db.Close()
}

// QL requires every change to happen inside a transaction.
func performExec(ctx context.Context, db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}
