package datasets

import "context"
import "database/sql"
import "fmt"
import "strings"

import "github.com/pkg/errors"
import _ "modernc.org/sqlite"

// DefaultTable is the table SQLSource reads when none is configured.
const DefaultTable = "samples"

// OpenSQLite opens a SQLite database file with the pure Go driver.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "datasets: open %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "datasets: open %s", path)
	}
	return db, nil
}

// quoteIdent quotes a table name as an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable creates the sample table if it does not exist.
func CreateTable(ctx context.Context, db *sql.DB, table string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		split TEXT NOT NULL,
		text  TEXT NOT NULL,
		label INTEGER NOT NULL
	)`, quoteIdent(table)))
	return err
}

// Insert appends samples to a split, keeping their order.
func Insert(ctx context.Context, db *sql.DB, table string, split Split, samples []Sample) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (split, text, label) VALUES (?, ?, ?)`, quoteIdent(table)))
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, string(split), s.Text, s.Label); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SQLSource reads (split, text, label) rows in insertion order.
type SQLSource struct {
	DB    *sql.DB
	Table string
}

func (q SQLSource) table() string {
	if q.Table == "" {
		return DefaultTable
	}
	return q.Table
}

func (q SQLSource) Retrieve(ctx context.Context, split Split) ([]Sample, error) {
	rows, err := q.DB.QueryContext(ctx,
		fmt.Sprintf(`SELECT text, label FROM %s WHERE split = ? ORDER BY rowid`, quoteIdent(q.table())), string(split))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.Text, &s.Label); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q SQLSource) String() string {
	return "sqlite:" + q.table()
}
