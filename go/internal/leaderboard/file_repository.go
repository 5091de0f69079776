package leaderboard

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// legacyTimestampLayout is how older boards recorded timestamps
const legacyTimestampLayout = "2006-01-02 15:04:05"

// FileRepository stores the board as one comma-separated row per entry:
// time_us,name,roll,timestamp[,photo]. Every save rewrites the whole file
// through a temp file and a rename.
type FileRepository struct {
	path string
}

// NewFileRepository creates a repository for the file at path
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: filepath.Clean(path)}
}

// Path returns the backing file path
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads every well-formed row. Rows with the wrong number of fields or an
// unparsable time are skipped. A missing file is an empty board.
func (r *FileRepository) Load(ctx context.Context) ([]Entry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open leaderboard file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var entries []Entry
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				log.Warn().Err(err).Str("path", r.path).Int("line", line).Msg("skipping malformed leaderboard row")
				continue
			}
			return nil, fmt.Errorf("failed to read leaderboard file: %w", err)
		}

		entry, err := decodeRecord(record)
		if err != nil {
			log.Warn().Err(err).Str("path", r.path).Int("line", line).Msg("skipping malformed leaderboard row")
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Save rewrites the file with entries in the given order
func (r *FileRepository) Save(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create leaderboard dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	writer := csv.NewWriter(tmp)
	for _, e := range entries {
		if err := writer.Write(encodeRecord(e)); err != nil {
			return fmt.Errorf("failed to write leaderboard row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush leaderboard rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("failed to replace leaderboard file: %w", err)
	}
	committed = true

	log.Debug().Str("path", r.path).Int("entries", len(entries)).Msg("leaderboard file rewritten")
	return nil
}

func encodeRecord(e Entry) []string {
	record := []string{
		strconv.FormatUint(e.TimeUS, 10),
		e.Name,
		e.Roll,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Photo != "" {
		record = append(record, e.Photo)
	}
	return record
}

func decodeRecord(record []string) (Entry, error) {
	if len(record) != 4 && len(record) != 5 {
		return Entry{}, fmt.Errorf("expected 4 or 5 fields, got %d", len(record))
	}

	timeUS, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid time_us %q: %w", record[0], err)
	}

	ts, err := parseTimestamp(strings.TrimSpace(record[3]))
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		TimeUS:    timeUS,
		Name:      record[1],
		Roll:      record[2],
		Timestamp: ts,
	}
	if len(record) == 5 {
		entry.Photo = strings.TrimSpace(record[4])
	}
	return entry, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.ParseInLocation(legacyTimestampLayout, value, time.Local); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
