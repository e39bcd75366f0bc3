package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// File is one downloaded media file.
type File struct {
	Gid   int64  `json:"gid"` // channel id
	Mid   int    `json:"mid"` // message id
	Kind  string `json:"kind"`
	Dname string `json:"dname"` // file name on disk
	Fpath string `json:"fpath"`
	Fsize int64  `json:"fsize"`
	Ftime string `json:"ftime"` // message date
	Msg   string `json:"msg"`
}

type Checkpoint struct {
	Gid     int64
	LastMid int
	Count   int
	Updated time.Time
}

// Index records downloaded files and per channel resume points.
type Index struct {
	db *sql.DB
}

func Open(dbPath string) (*Index, error) {
	// create parent directories of the db file
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	// busy_timeout lets a second process wait for the writer instead of failing
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// one row per downloaded file, a message holds at most one file per kind
	if _, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS files (
		gid INTEGER,
		mid INTEGER,
		kind TEXT,
		dname TEXT,
		fpath TEXT,
		fsize INTEGER,
		msg TEXT,
		ftime TEXT,
		created TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (gid, mid, kind)
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create files table: %w", err)
	}
	// file_info looks files up by name
	if _, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_files_dname ON files(dname);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create files index: %w", err)
	}
	// last finished message per channel, used by useCheckpoint
	if _, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
		gid INTEGER PRIMARY KEY,
		last_mid INTEGER,
		count INTEGER,
		updated TEXT
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

const fileColumns = "gid, mid, kind, dname, fpath, fsize, msg, ftime"

func (x *Index) query(ctx context.Context, where string, arg any) ([]*File, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT "+fileColumns+" FROM files WHERE "+where+" ORDER BY gid, mid;", arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	// usually one or two rows
	flis := make([]*File, 0, 3)
	for rows.Next() {
		var file File
		if err := rows.Scan(&file.Gid, &file.Mid, &file.Kind, &file.Dname, &file.Fpath, &file.Fsize, &file.Msg, &file.Ftime); err != nil {
			return nil, err
		}
		flis = append(flis, &file)
	}
	return flis, rows.Err()
}

// FindByName returns files stored under the given on-disk name.
func (x *Index) FindByName(ctx context.Context, dname string) ([]*File, error) {
	return x.query(ctx, "dname = ?", dname)
}

// FindByMessage returns files downloaded from message mid of any channel.
func (x *Index) FindByMessage(ctx context.Context, mid int) ([]*File, error) {
	return x.query(ctx, "mid = ?", mid)
}

// AddFile inserts or refreshes the row for (gid, mid, kind).
func (x *Index) AddFile(ctx context.Context, file *File) error {
	// a forced re-download replaces the old row
	_, err := x.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		file.Gid, file.Mid, file.Kind, file.Dname, file.Fpath, file.Fsize, file.Msg, file.Ftime)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", file.Dname, err)
	}
	return nil
}

func (x *Index) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	// stored as RFC3339 text in UTC
	if cp.Updated.IsZero() {
		cp.Updated = time.Now()
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO checkpoints (gid, last_mid, count, updated) VALUES (?, ?, ?, ?)
		ON CONFLICT(gid) DO UPDATE SET last_mid = excluded.last_mid, count = excluded.count, updated = excluded.updated`,
		cp.Gid, cp.LastMid, cp.Count, cp.Updated.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save checkpoint %d: %w", cp.Gid, err)
	}
	return nil
}

// LoadCheckpoint returns ok=false when the channel has never been processed.
func (x *Index) LoadCheckpoint(ctx context.Context, gid int64) (Checkpoint, bool, error) {
	cp := Checkpoint{Gid: gid}
	var updated string
	err := x.db.QueryRowContext(ctx, "SELECT last_mid, count, updated FROM checkpoints WHERE gid = ?", gid).
		Scan(&cp.LastMid, &cp.Count, &updated)
	// never processed
	if err == sql.ErrNoRows {
		return cp, false, nil
	}
	if err != nil {
		return cp, false, err
	}
	cp.Updated, _ = time.Parse(time.RFC3339, updated)
	return cp, true, nil
}
