// Package indexer turns crate specs into stored search-index documents.
package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jcdickinson/docindex/internal/cas"
	"github.com/jcdickinson/docindex/internal/db"
	"github.com/jcdickinson/docindex/internal/docs"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

const latest = "latest"

// UnknownVersion is recorded for imported crates when neither the input nor
// the caller names a version.
const UnknownVersion = "unknown"

// Source supplies raw rustdoc JSON. *docs.Fetcher is the network source.
type Source interface {
	FetchRustdocJSON(ctx context.Context, name, version string) ([]byte, error)
}

// CrateSpec names a crate and optionally a version ("latest" when empty).
type CrateSpec struct {
	Name    string
	Version string
}

func (s CrateSpec) String() string {
	return s.Name + "@" + s.version()
}

func (s CrateSpec) version() string {
	if s.Version == "" {
		return latest
	}
	return s.Version
}

// ParseCrateSpec parses "name" or "name@version".
func ParseCrateSpec(s string) (CrateSpec, error) {
	name, version, _ := strings.Cut(strings.TrimSpace(s), "@")
	if name == "" {
		return CrateSpec{}, fmt.Errorf("invalid crate spec %q: missing name", s)
	}
	if strings.ContainsAny(name, "/\\ ") {
		return CrateSpec{}, fmt.Errorf("invalid crate spec %q: bad name", s)
	}
	return CrateSpec{Name: name, Version: version}, nil
}

// Result reports what happened to one crate spec.
type Result struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Items     int    `json:"items"`
	IndexHash string `json:"index_hash,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Options struct {
	// Concurrency bounds how many crates are built at once.
	Concurrency int
	// LockPath, when set, is held with an exclusive file lock during Build.
	LockPath    string
	LockTimeout time.Duration
}

// BuildOptions apply to a single Build call.
type BuildOptions struct {
	// Force rebuilds crates that are already stored at the requested version.
	Force bool
	// Progress, if not nil, receives human-readable status lines.
	Progress func(string)
}

type Indexer struct {
	db    *db.DB
	cas   *cas.Store
	src   Source
	opts  Options
	group singleflight.Group
}

func New(database *db.DB, store *cas.Store, src Source, opts Options) *Indexer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	return &Indexer{db: database, cas: store, src: src, opts: opts}
}

type reporter func(format string, args ...any)

// newReporter serializes calls to fn, which may be nil.
func newReporter(fn func(string)) reporter {
	var mu sync.Mutex
	return func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		slog.Debug("indexer progress", "msg", msg)
		if fn == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fn(msg)
	}
}

// lock takes the build lock. The returned func releases it.
func (ix *Indexer) lock(ctx context.Context) (func(), error) {
	if ix.opts.LockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(ix.opts.LockPath), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	l := flock.New(ix.opts.LockPath)
	ctx, cancel := context.WithTimeout(ctx, ix.opts.LockTimeout)
	defer cancel()
	locked, err := l.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("acquiring build lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another build is in progress (lock: %s)", ix.opts.LockPath)
	}
	return func() { _ = l.Unlock() }, nil
}

// Build indexes every spec. Per-crate failures are reported in the
// corresponding Result; the returned error covers locking and cancellation.
func (ix *Indexer) Build(ctx context.Context, specs []CrateSpec, bo BuildOptions) ([]Result, error) {
	report := newReporter(bo.Progress)
	unlock, err := ix.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	results := make([]Result, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = ix.buildOne(gctx, spec, bo.Force, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (ix *Indexer) buildOne(ctx context.Context, spec CrateSpec, force bool, report reporter) Result {
	version := spec.version()
	result := Result{Name: spec.Name, Version: version}

	if version != latest && !force {
		existing, err := ix.db.ResolveCrate(spec.Name)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		if existing != nil && existing.Version == version {
			result.Name = existing.Name
			result.Items = existing.ItemCount
			result.IndexHash = existing.IndexHash
			result.Cached = true
			return result
		}
	}

	v, err, _ := ix.group.Do(spec.Name+"@"+version, func() (interface{}, error) {
		return ix.load(ctx, spec.Name, version, report)
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	loaded := v.(loadedCrate)
	r, err := ix.store(loaded.name, spec.Name, loaded.version, loaded.doc)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	report("finished indexing %s@%s (%d items)", r.Name, r.Version, r.Items)
	return r
}

type loadedCrate struct {
	name    string
	version string
	doc     searchindex.CrateDoc
}

// load returns the built document for name@version, preferring the on-disk
// rustdoc cache for pinned versions.
func (ix *Indexer) load(ctx context.Context, name, version string, report reporter) (loadedCrate, error) {
	var data []byte
	if version != latest && docs.HasCrateCache(name, version) {
		cached, err := docs.LoadCrateCache(name, version)
		if err != nil {
			slog.Warn("ignoring unreadable rustdoc cache", "crate", name, "version", version, "err", err)
		} else {
			report("using cached rustdoc for %s@%s", name, version)
			data = cached
		}
	}
	if data == nil {
		report("fetching rustdoc for %s@%s", name, version)
		fetched, err := ix.src.FetchRustdocJSON(ctx, name, version)
		if err != nil {
			return loadedCrate{}, fmt.Errorf("fetching docs: %w", err)
		}
		data = fetched
	}

	crate, err := docs.Parse(data)
	if err != nil {
		return loadedCrate{}, fmt.Errorf("parsing docs: %w", err)
	}
	realVersion := crate.Version(version)
	if err := docs.SaveCrateCache(data, name, realVersion); err != nil {
		slog.Warn("failed to cache rustdoc JSON", "crate", name, "version", realVersion, "err", err)
	}

	libName, doc, err := docs.BuildCrateDoc(crate)
	if err != nil {
		return loadedCrate{}, err
	}
	return loadedCrate{name: libName, version: realVersion, doc: doc}, nil
}

// ImportRustdoc builds and stores a crate from rustdoc JSON already on hand.
func (ix *Indexer) ImportRustdoc(data []byte, version string) (Result, error) {
	crate, err := docs.Parse(data)
	if err != nil {
		return Result{}, fmt.Errorf("parsing docs: %w", err)
	}
	name, doc, err := docs.BuildCrateDoc(crate)
	if err != nil {
		return Result{}, err
	}
	return ix.store(name, "", crate.Version(version), doc)
}

// ImportIndex stores every crate of an already built index. Versions are
// not carried by the index format and are recorded as given, or as
// UnknownVersion when empty.
func (ix *Indexer) ImportIndex(idx searchindex.Index, version string) ([]Result, error) {
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	var results []Result
	for _, name := range idx.Names() {
		r, err := ix.store(name, "", version, idx[name])
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// store renders the crate's standalone search-index.js into the CAS and
// records the document in the database.
func (ix *Indexer) store(name, pkg, version string, doc searchindex.CrateDoc) (Result, error) {
	if version == "" {
		version = UnknownVersion
	}
	var buf bytes.Buffer
	if err := searchindex.WriteJS(&buf, searchindex.Index{name: doc}); err != nil {
		return Result{}, fmt.Errorf("rendering index for %s: %w", name, err)
	}
	hash, err := ix.cas.Put(buf.Bytes())
	if err != nil {
		return Result{}, fmt.Errorf("storing index for %s: %w", name, err)
	}
	if err := ix.db.SaveCrateDoc(name, pkg, version, doc, hash); err != nil {
		return Result{}, err
	}
	return Result{Name: name, Version: version, Items: len(doc.Items), IndexHash: hash}, nil
}

// RenderedIndex returns the stored search-index.js for one crate, named by
// library or crates.io package name.
func (ix *Indexer) RenderedIndex(name string) ([]byte, error) {
	c, err := ix.db.ResolveCrate(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", db.ErrCrateNotFound, name)
	}
	return ix.cas.Get(c.IndexHash)
}

// Remove deletes a crate and its rendered index. name may be the library or
// the crates.io package name.
func (ix *Indexer) Remove(name string) (bool, error) {
	c, err := ix.db.ResolveCrate(name)
	if err != nil || c == nil {
		return false, err
	}
	if _, err := ix.db.DeleteCrate(c.Name); err != nil {
		return false, err
	}
	if c.IndexHash != "" {
		if err := ix.cas.Delete(c.IndexHash); err != nil {
			slog.Warn("failed to remove rendered index", "crate", c.Name, "err", err)
		}
	}
	return true, nil
}
