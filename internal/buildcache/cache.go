// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package buildcache provides a content-addressed cache of build outputs.
//
// A target's cache key is a hash of its kind, its label,
// the contents of its sources and the contents of its dependencies' outputs.
// Entries are stored in a SQLite database;
// the output files themselves live in the workspace's outputs directory.
package buildcache

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"zb.256lights.llc/zap/internal/osutil"
	"zb.256lights.llc/zap/label"
	"zombiezen.com/go/log"
	"zombiezen.com/go/nix"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Target is the subset of a sealed build node that the cache inspects.
type Target interface {
	// Kind returns the name of the target's rule kind.
	Kind() string
	Label() label.Label
	// Sources returns the target's source files
	// as slash-separated paths relative to the source root.
	Sources() []string
	// DependencyOutputs returns the outputs of the target's transitive dependencies
	// as slash-separated paths relative to the outputs root.
	DependencyOutputs() []string
	// Outputs returns the files the target produces
	// as slash-separated paths relative to the outputs root.
	Outputs() []string
}

// Options is the set of optional parameters to [Open].
type Options struct {
	// SourceRoot is the directory that target sources are relative to.
	// If empty, the working directory is used.
	SourceRoot string
	// OutputsRoot is the directory that outputs are stored in.
	// If empty, the working directory is used.
	OutputsRoot string
	// Namespace is mixed into every key
	// so that workspaces sharing a database do not share entries.
	Namespace string
	// DigestCacheSize is the number of file digests to keep in memory.
	// If zero, a reasonable default is used.
	DigestCacheSize int
}

// Cache is a handle to a build cache database.
// It is safe to call methods on Cache from multiple goroutines concurrently.
type Cache struct {
	db          *sqlitemigration.Pool
	sourceRoot  string
	outputsRoot string
	namespace   string
	buildID     uuid.UUID
	digests     *lru.Cache[fileStamp, nix.Hash]
}

// Open opens the cache database at the given path,
// creating it if it does not exist.
// Callers are responsible for calling [Cache.Close] on the returned cache.
func Open(path string, opts *Options) (*Cache, error) {
	if opts == nil {
		opts = new(Options)
	}
	size := opts.DigestCacheSize
	if size <= 0 {
		size = 4096
	}
	digests, err := lru.New[fileStamp, nix.Hash](size)
	if err != nil {
		return nil, fmt.Errorf("open build cache: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return nil, fmt.Errorf("open build cache: %v", err)
	}
	return &Cache{
		db: sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
			Flags:       sqlite.OpenCreate | sqlite.OpenReadWrite,
			PrepareConn: prepareConn,
			OnStartMigrate: func() {
				log.Debugf(context.Background(), "Migrating build cache...")
			},
			OnError: func(err error) {
				log.Errorf(context.Background(), "Build cache migration: %v", err)
			},
		}),
		sourceRoot:  opts.SourceRoot,
		outputsRoot: opts.OutputsRoot,
		namespace:   opts.Namespace,
		buildID:     uuid.New(),
		digests:     digests,
	}, nil
}

// Close releases any resources associated with the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}

// BuildID returns the identifier that [Cache.Save] records with each entry.
// It is unique to this handle.
func (c *Cache) BuildID() uuid.UUID {
	return c.buildID
}

// Key returns the content key of the target.
// The key does not depend on the order in which
// sources or dependency outputs are listed.
func (c *Cache) Key(ctx context.Context, t Target) (nix.Hash, error) {
	type entry struct {
		path   string
		digest nix.Hash
	}
	hashAll := func(root string, paths []string) ([]entry, error) {
		entries := make([]entry, 0, len(paths))
		for _, p := range paths {
			d, err := c.digest(filepath.Join(root, filepath.FromSlash(p)))
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry{p, d})
		}
		slices.SortFunc(entries, func(a, b entry) int {
			return strings.Compare(a.path, b.path)
		})
		return entries, nil
	}

	sources, err := hashAll(c.sourceRoot, t.Sources())
	if err != nil {
		return nix.Hash{}, &Error{Op: "hash sources", Label: t.Label(), Err: err}
	}
	deps, err := hashAll(c.outputsRoot, t.DependencyOutputs())
	if err != nil {
		return nix.Hash{}, &Error{Op: "hash dependency outputs", Label: t.Label(), Err: err}
	}

	h := nix.NewHasher(nix.SHA256)
	writeField := func(name, value string) {
		h.WriteString(name)
		h.WriteString(" ")
		h.WriteString(strconv.Itoa(len(value)))
		h.WriteString(":")
		h.WriteString(value)
		h.WriteString("\n")
	}
	writeField("namespace", c.namespace)
	writeField("kind", t.Kind())
	writeField("label", t.Label().String())
	for _, e := range sources {
		writeField("source", e.path+" "+e.digest.Base16())
	}
	for _, e := range deps {
		writeField("dependency", e.path+" "+e.digest.Base16())
	}
	key := h.SumHash()
	log.Debugf(ctx, "Cache key for %v is %v", t.Label(), key.Base16())
	return key, nil
}

// IsCached reports whether the target has a cache entry
// whose outputs are all present in the outputs root
// with the content recorded in the entry.
// An entry with missing or changed outputs is reported as not cached.
func (c *Cache) IsCached(ctx context.Context, t Target) (bool, error) {
	key, err := c.Key(ctx, t)
	if err != nil {
		return false, err
	}
	conn, err := c.db.Get(ctx)
	if err != nil {
		return false, &Error{Op: "lookup", Label: t.Label(), Err: err}
	}
	defer c.db.Put(conn)

	type recordedOutput struct {
		path   string
		digest string
	}
	found := false
	var outputs []recordedOutput
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "find_entry.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":key": key.Base16(),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			if p := stmt.GetText("path"); p != "" {
				outputs = append(outputs, recordedOutput{p, stmt.GetText("digest")})
			}
			return nil
		},
	})
	if err != nil {
		return false, &Error{Op: "lookup", Label: t.Label(), Err: err}
	}
	if !found {
		log.Debugf(ctx, "No cache entry for %v", t.Label())
		return false, nil
	}
	// The outputs root holds whatever was saved last,
	// which may belong to a different key.
	for _, out := range outputs {
		d, err := c.digest(filepath.Join(c.outputsRoot, filepath.FromSlash(out.path)))
		if err != nil {
			log.Debugf(ctx, "Cache entry for %v is missing %s: %v", t.Label(), out.path, err)
			return false, nil
		}
		if d.Base16() != out.digest {
			log.Debugf(ctx, "Cache entry for %v has stale %s", t.Label(), out.path)
			return false, nil
		}
	}
	return true, nil
}

// Save copies the target's outputs from the directory they were built in
// into the outputs root and records them under the target's key,
// replacing any existing entry for the key.
func (c *Cache) Save(ctx context.Context, t Target, builtDir string) error {
	outputs := t.Outputs()
	digests := make([]nix.Hash, 0, len(outputs))
	for _, p := range outputs {
		dst := filepath.Join(c.outputsRoot, filepath.FromSlash(p))
		if err := osutil.CopyFile(dst, filepath.Join(builtDir, filepath.FromSlash(p))); err != nil {
			return &Error{Op: "save", Label: t.Label(), Err: err}
		}
		d, err := c.digest(dst)
		if err != nil {
			return &Error{Op: "save", Label: t.Label(), Err: err}
		}
		digests = append(digests, d)
	}

	key, err := c.Key(ctx, t)
	if err != nil {
		return err
	}
	conn, err := c.db.Get(ctx)
	if err != nil {
		return &Error{Op: "save", Label: t.Label(), Err: err}
	}
	defer c.db.Put(conn)

	if err := c.record(conn, key, t.Label(), outputs, digests); err != nil {
		return &Error{Op: "save", Label: t.Label(), Err: err}
	}
	log.Debugf(ctx, "Saved %d outputs of %v under %v", len(outputs), t.Label(), key.Base16())
	return nil
}

func (c *Cache) record(conn *sqlite.Conn, key nix.Hash, l label.Label, outputs []string, digests []nix.Hash) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "delete_entry.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":key": key.Base16(),
		},
	})
	if err != nil {
		return fmt.Errorf("replace %s: %v", key.Base16(), err)
	}
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "insert_entry.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":key":      key.Base16(),
			":label":    l.String(),
			":build_id": c.buildID.String(),
			":saved_at": time.Now().Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("insert %s: %v", key.Base16(), err)
	}

	stmt, err := sqlitex.PrepareTransientFS(conn, sqlFiles(), "insert_output.sql")
	if err != nil {
		return err
	}
	defer stmt.Finalize()
	for i, p := range outputs {
		stmt.SetText(":key", key.Base16())
		stmt.SetText(":path", p)
		stmt.SetText(":digest", digests[i].Base16())
		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert %s output %s: %v", key.Base16(), p, err)
		}
		if err := stmt.Reset(); err != nil {
			return fmt.Errorf("insert %s output %s: %v", key.Base16(), p, err)
		}
	}
	return nil
}

// Entries returns the number of entries recorded for the given label,
// or for every label if l is the zero label.
func (c *Cache) Entries(ctx context.Context, l label.Label) (int, error) {
	conn, err := c.db.Get(ctx)
	if err != nil {
		return 0, &Error{Op: "count", Label: l, Err: err}
	}
	defer c.db.Put(conn)

	var n int
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "count_entries.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":label": l.String(),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = int(stmt.GetInt64("n"))
			return nil
		},
	})
	if err != nil {
		return 0, &Error{Op: "count", Label: l, Err: err}
	}
	return n, nil
}

// racyWindow is how old a file's modification time must be
// before its digest is memoized.
const racyWindow = 2 * time.Second

type fileStamp struct {
	path    string
	size    int64
	modTime int64
	mode    fs.FileMode
}

// digest returns the SHA-256 hash of the file at path,
// reusing the previous result if the file's stamp has not changed since.
func (c *Cache) digest(path string) (nix.Hash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nix.Hash{}, err
	}
	stamp := fileStamp{
		path:    path,
		size:    info.Size(),
		modTime: info.ModTime().UnixNano(),
		mode:    info.Mode(),
	}
	if h, ok := c.digests.Get(stamp); ok {
		return h, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nix.Hash{}, err
	}
	defer f.Close()
	h := nix.NewHasher(nix.SHA256)
	if _, err := io.Copy(h, f); err != nil {
		return nix.Hash{}, fmt.Errorf("hash %s: %v", path, err)
	}
	sum := h.SumHash()
	// A file modified within the filesystem's timestamp granularity
	// could change again without changing its stamp.
	if time.Since(info.ModTime()) > racyWindow {
		c.digests.Add(stamp, sum)
	}
	return sum, nil
}

func prepareConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = on;", nil); err != nil {
		return err
	}
	return nil
}

//go:embed sql/*.sql
//go:embed sql/schema/*.sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})

	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}

// Error is returned when the cache cannot be read or written.
type Error struct {
	Op    string
	Label label.Label
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("build cache: %s %v: %v", e.Op, e.Label, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
