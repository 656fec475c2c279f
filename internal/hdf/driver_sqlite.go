package hdf

import (
	"bytes"
	"compress/zlib"
	"context"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// sqliteSchema stores the object tree, attributes and the written blocks of
// every dataset. Blocks are replayed in write order on read.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
    path TEXT PRIMARY KEY,
    parent TEXT NOT NULL,
    name TEXT NOT NULL,
    type INTEGER NOT NULL,     -- 1 group, 2 dataset
    kind TEXT,
    extent TEXT,               -- JSON array
    capacity TEXT,             -- JSON array, max uint64 is unlimited
    chunks TEXT,               -- JSON array
    compression INTEGER DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_objects_parent ON objects(parent);

CREATE TABLE IF NOT EXISTS attributes (
    path TEXT NOT NULL,
    name TEXT NOT NULL,
    seq INTEGER NOT NULL,
    value TEXT NOT NULL,       -- JSON tagged value
    PRIMARY KEY (path, name)
);

CREATE TABLE IF NOT EXISTS blocks (
    path TEXT NOT NULL,
    seq INTEGER NOT NULL,
    origin TEXT NOT NULL,      -- JSON array, block offset
    shape TEXT NOT NULL,       -- JSON array
    data BLOB NOT NULL,        -- gob, zlib compressed if compression > 0
    PRIMARY KEY (path, seq)
);
`

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteDriver writes into a single SQLite database. All writes between two
// flushes share one transaction.
type sqliteDriver struct {
	db  *sql.DB
	tx  *sql.Tx
	ctx context.Context
}

func newSQLiteDriver(p string) (*sqliteDriver, error) {
	d, err := openSQLite(p)
	if err != nil {
		return nil, err
	}
	if _, err := d.db.ExecContext(d.ctx, sqliteSchema); err != nil {
		d.db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := d.db.ExecContext(d.ctx,
		`INSERT OR IGNORE INTO objects (path, parent, name, type) VALUES ('/', '', '/', ?)`, ObjectGroup); err != nil {
		d.db.Close()
		return nil, fmt.Errorf("failed to create root group: %w", err)
	}
	return d, nil
}

func openSQLiteDriver(p string) (*sqliteDriver, error) {
	d, err := openSQLite(p)
	if err != nil {
		return nil, err
	}
	var n int
	if err := d.db.QueryRowContext(d.ctx, `SELECT COUNT(*) FROM objects WHERE path = '/'`).Scan(&n); err != nil || n != 1 {
		d.db.Close()
		if err == nil {
			err = errors.New("missing root group")
		}
		return nil, fmt.Errorf("%w: not a gridsim container: %v", ErrUnsupported, err)
	}
	return d, nil
}

func openSQLite(p string) (*sqliteDriver, error) {
	db, err := sql.Open("sqlite", p+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &sqliteDriver{db: db, ctx: context.Background()}, nil
}

// q returns the active transaction, starting one if needed.
func (d *sqliteDriver) q() (querier, error) {
	if d.tx == nil {
		tx, err := d.db.BeginTx(d.ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		d.tx = tx
	}
	return d.tx, nil
}

func (d *sqliteDriver) insertObject(p string, typ ObjectType, l *Layout) error {
	q, err := d.q()
	if err != nil {
		return err
	}
	var kind, extent, capacity, chunks any
	compression := 0
	if l != nil {
		kind = string(l.Kind)
		extent, capacity, chunks = mustJSON(l.Extent), mustJSON(l.Capacity), mustJSON(l.Chunks)
		compression = l.Compression
	}
	_, err = q.ExecContext(d.ctx, `
		INSERT INTO objects (path, parent, name, type, kind, extent, capacity, chunks, compression)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p, path.Dir(p), path.Base(p), typ, kind, extent, capacity, chunks, compression)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", p, err)
	}
	return nil
}

func (d *sqliteDriver) CreateGroup(p string) error {
	return d.insertObject(p, ObjectGroup, nil)
}

func (d *sqliteDriver) CreateDataset(p string, l Layout) error {
	return d.insertObject(p, ObjectDataset, &l)
}

func (d *sqliteDriver) Resize(p string, extent []uint64) error {
	q, err := d.q()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(d.ctx, `UPDATE objects SET extent = ? WHERE path = ? AND type = ?`,
		mustJSON(extent), p, ObjectDataset)
	if err != nil {
		return fmt.Errorf("failed to resize %s: %w", p, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return nil
}

func (d *sqliteDriver) WriteBlock(p string, offset []uint64, b *Block) error {
	l, err := d.Layout(p)
	if err != nil {
		return err
	}
	for i := range offset {
		if offset[i]+b.Shape[i] > l.Extent[i] {
			return fmt.Errorf("%w: block of shape %v at offset %v exceeds extent %v",
				ErrCapacity, b.Shape, offset, l.Extent)
		}
	}
	if b.Kind.family() != l.Kind.family() {
		return fmt.Errorf("%w: cannot write %s data into %s storage", ErrType, b.Kind, l.Kind)
	}
	data, err := encodeBlock(b, l.Compression)
	if err != nil {
		return err
	}
	q, err := d.q()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(d.ctx, `
		INSERT INTO blocks (path, seq, origin, shape, data)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM blocks WHERE path = ?), ?, ?, ?)`,
		p, p, mustJSON(offset), mustJSON(b.Shape), data)
	if err != nil {
		return fmt.Errorf("failed to write block to %s: %w", p, err)
	}
	return nil
}

func (d *sqliteDriver) WriteAttribute(p string, a Attribute) error {
	v, err := encodeValue(a.Value)
	if err != nil {
		return err
	}
	q, err := d.q()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(d.ctx, `
		INSERT INTO attributes (path, name, seq, value)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM attributes WHERE path = ?), ?)
		ON CONFLICT(path, name) DO UPDATE SET value = excluded.value`,
		p, a.Name, p, string(v))
	if err != nil {
		return fmt.Errorf("failed to write attribute %q of %s: %w", a.Name, p, err)
	}
	return nil
}

func (d *sqliteDriver) Stat(p string) (ObjectType, error) {
	q, err := d.q()
	if err != nil {
		return ObjectNone, err
	}
	var typ ObjectType
	err = q.QueryRowContext(d.ctx, `SELECT type FROM objects WHERE path = ?`, p).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return ObjectNone, nil
	}
	if err != nil {
		return ObjectNone, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return typ, nil
}

func (d *sqliteDriver) Layout(p string) (Layout, error) {
	q, err := d.q()
	if err != nil {
		return Layout{}, err
	}
	var l Layout
	var kind, extent, capacity, chunks string
	err = q.QueryRowContext(d.ctx, `
		SELECT kind, extent, capacity, chunks, compression FROM objects WHERE path = ? AND type = ?`,
		p, ObjectDataset).Scan(&kind, &extent, &capacity, &chunks, &l.Compression)
	if errors.Is(err, sql.ErrNoRows) {
		return Layout{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read layout of %s: %w", p, err)
	}
	l.Kind = Kind(kind)
	for _, f := range []struct {
		raw string
		dst *[]uint64
	}{{extent, &l.Extent}, {capacity, &l.Capacity}, {chunks, &l.Chunks}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return Layout{}, fmt.Errorf("failed to decode layout of %s: %w", p, err)
		}
	}
	return l, nil
}

func (d *sqliteDriver) ReadAll(p string) (*Block, error) {
	l, err := d.Layout(p)
	if err != nil {
		return nil, err
	}
	q, err := d.q()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(d.ctx, `SELECT origin, data FROM blocks WHERE path = ? ORDER BY seq`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	defer func() { _ = rows.Close() }()

	out := newBlock(l.Kind, l.Extent)
	for rows.Next() {
		var rawOffset string
		var data []byte
		if err := rows.Scan(&rawOffset, &data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var offset []uint64
		if err := json.Unmarshal([]byte(rawOffset), &offset); err != nil {
			return nil, fmt.Errorf("failed to decode block offset of %s: %w", p, err)
		}
		b, err := decodeBlock(data, l.Compression)
		if err != nil {
			return nil, fmt.Errorf("failed to decode block of %s: %w", p, err)
		}
		if err := out.paste(b, offset); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

func (d *sqliteDriver) Attributes(p string) ([]Attribute, error) {
	q, err := d.q()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(d.ctx, `SELECT name, value FROM attributes WHERE path = ? ORDER BY seq`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes of %s: %w", p, err)
	}
	defer func() { _ = rows.Close() }()
	var out []Attribute
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		v, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("attribute %q of %s: %w", name, p, err)
		}
		out = append(out, Attribute{Name: name, Value: v})
	}
	return out, rows.Err()
}

func (d *sqliteDriver) Children(p string) ([]string, error) {
	q, err := d.q()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(d.ctx, `SELECT name FROM objects WHERE parent = ? AND path != '/' ORDER BY rowid`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p, err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (d *sqliteDriver) Flush() error {
	if d.tx == nil {
		return nil
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (d *sqliteDriver) Close() error {
	err := d.Flush()
	if cerr := d.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func mustJSON(v []uint64) string {
	if v == nil {
		v = []uint64{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// storedBlock is the gob payload of a block row.
type storedBlock struct {
	Kind   Kind
	Shape  []uint64
	Ints   []int64
	Uints  []uint64
	Floats []float64
	Strs   []string
}

func encodeBlock(b *Block, compression int) ([]byte, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var zw *zlib.Writer
	if compression > 0 {
		var err error
		zw, err = zlib.NewWriterLevel(&buf, compression)
		if err != nil {
			return nil, err
		}
		w = zw
	}
	sb := storedBlock{Kind: b.Kind, Shape: b.Shape, Ints: b.Ints, Uints: b.Uints, Floats: b.Floats, Strs: b.Strs}
	if err := gob.NewEncoder(w).Encode(sb); err != nil {
		return nil, fmt.Errorf("encoding block: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compressing block: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decodeBlock(data []byte, compression int) (*Block, error) {
	var r io.Reader = bytes.NewReader(data)
	if compression > 0 {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	var sb storedBlock
	if err := gob.NewDecoder(r).Decode(&sb); err != nil {
		return nil, err
	}
	b := &Block{Kind: sb.Kind, Shape: sb.Shape, Ints: sb.Ints, Uints: sb.Uints, Floats: sb.Floats, Strs: sb.Strs}
	// gob drops empty slices
	if uint64(b.Len()) != numElements(b.Shape) {
		full := newBlock(b.Kind, b.Shape)
		if b.Len() != 0 {
			return nil, fmt.Errorf("%w: block holds %d values for shape %v", ErrRank, b.Len(), b.Shape)
		}
		b = full
	}
	return b, nil
}
