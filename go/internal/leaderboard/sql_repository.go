package leaderboard

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mcdev12/lightsout/go/internal/dbconfig"
	"github.com/mcdev12/lightsout/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
)

const createEntriesTable = `CREATE TABLE IF NOT EXISTS leaderboard_entries (
	position    INTEGER NOT NULL,
	time_us     BIGINT  NOT NULL,
	name        TEXT    NOT NULL,
	roll        TEXT    NOT NULL,
	recorded_at TEXT    NOT NULL,
	photo       TEXT    NOT NULL DEFAULT ''
)`

// SQLRepository stores the board in a SQL table. Saves delete and re-insert every
// row inside one transaction, so readers see either the old or the new board.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
}

type dialect struct {
	name string
}

func (d dialect) placeholder(i int) string {
	if d.name == dbconfig.DriverPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// NewSQLRepository wraps an open database and creates the table if needed.
// driver is one of the dbconfig driver names.
func NewSQLRepository(ctx context.Context, db *sql.DB, driver string) (*SQLRepository, error) {
	if driver != dbconfig.DriverSQLite && driver != dbconfig.DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, createEntriesTable); err != nil {
		return nil, fmt.Errorf("failed to create leaderboard table: %w", err)
	}
	return &SQLRepository{db: db, dialect: dialect{name: driver}}, nil
}

// Load reads all rows ordered by time. Rows with an unparsable timestamp are skipped.
func (r *SQLRepository) Load(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT time_us, name, roll, recorded_at, photo FROM leaderboard_entries ORDER BY time_us, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			timeUS     int64
			recordedAt string
			e          Entry
		)
		if err := rows.Scan(&timeUS, &e.Name, &e.Roll, &recordedAt, &e.Photo); err != nil {
			log.Warn().Err(err).Msg("skipping malformed leaderboard row")
			continue
		}
		if timeUS < 0 {
			log.Warn().Int64("time_us", timeUS).Msg("skipping leaderboard row with negative time")
			continue
		}
		ts, err := parseTimestamp(recordedAt)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed leaderboard row")
			continue
		}
		e.TimeUS = uint64(timeUS)
		e.Timestamp = ts
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard rows: %w", err)
	}
	return entries, nil
}

// Save replaces every row with entries
func (r *SQLRepository) Save(ctx context.Context, entries []Entry) error {
	bind := func(tx *sql.Tx) *queries { return &queries{tx: tx, dialect: r.dialect} }
	return sqlutil.Run(ctx, r.db, bind, func(q *queries) error {
		if err := q.deleteAll(ctx); err != nil {
			return err
		}
		for i, e := range entries {
			if err := q.insert(ctx, i+1, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database handle
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type queries struct {
	tx      *sql.Tx
	dialect dialect
}

func (q *queries) deleteAll(ctx context.Context) error {
	if _, err := q.tx.ExecContext(ctx, `DELETE FROM leaderboard_entries`); err != nil {
		return fmt.Errorf("failed to clear leaderboard: %w", err)
	}
	return nil
}

func (q *queries) insert(ctx context.Context, position int, e Entry) error {
	// time_us is a signed BIGINT column
	if e.TimeUS > math.MaxInt64 {
		return fmt.Errorf("time_us %d out of range for sql storage", e.TimeUS)
	}

	ph := make([]string, 6)
	for i := range ph {
		ph[i] = q.dialect.placeholder(i + 1)
	}
	stmt := `INSERT INTO leaderboard_entries (position, time_us, name, roll, recorded_at, photo) VALUES (` +
		strings.Join(ph, ", ") + `)`

	_, err := q.tx.ExecContext(ctx, stmt,
		position,
		int64(e.TimeUS),
		e.Name,
		e.Roll,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Photo,
	)
	if err != nil {
		return fmt.Errorf("failed to insert leaderboard row: %w", err)
	}
	return nil
}
