package submission

import (
	"database/sql"
	"encoding/json"
	"log"

	"github.com/BurntSushi/migration"

	"github.com/ndlib/paperstore/chunk"
)

// we need to adapt the migration version functions to work with MySQL
// This code is slightly modified from github.com/BurntSushi/migration

type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		// we assume error means there is no migration table
		log.Println(err.Error())
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if err := d.set(tx, version); err != nil {
		if err := d.createTable(tx); err != nil {
			return err
		}
		return d.set(tx, version)
	}
	return nil
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	if err := r.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	if err == nil {
		err = d.set(tx, 0)
	}
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// row is a submission as kept in a table. The authors are kept as JSON text
// and the blob id as its string form.
type row struct {
	Submission
	authors string
	blobID  string
}

func toRow(s Submission) (row, error) {
	authors, err := json.Marshal(s.Authors)
	if err != nil {
		return row{}, err
	}
	return row{Submission: s, authors: string(authors), blobID: s.BlobID.String()}, nil
}

func (r *row) decode() (Submission, error) {
	err := json.Unmarshal([]byte(r.authors), &r.Authors)
	if err != nil {
		return Submission{}, err
	}
	r.BlobID, err = chunk.ParseBlobID(r.blobID)
	return r.Submission, err
}

// collect the blob ids from a single column result
func scanBlobIDs(rows *sql.Rows) ([]chunk.BlobID, error) {
	defer rows.Close()
	var result []chunk.BlobID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := chunk.ParseBlobID(s)
		if err != nil {
			log.Printf("submission: skipping blob id %q", s)
			continue
		}
		result = append(result, id)
	}
	return result, rows.Err()
}
