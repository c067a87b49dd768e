package ingest

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// maxTraversalGoroutines caps concurrent directory listings; beyond it
// subdirectories are walked inline by the goroutine that found them.
const maxTraversalGoroutines = 16

// Entry is one dropped or picked item: a path inside a filesystem
type Entry struct {
	FS   fs.FS
	Path string
}

// OSEntry wraps an operating system path so it can be collected
func OSEntry(osPath string) Entry {
	abs, err := filepath.Abs(osPath)
	if err != nil {
		abs = filepath.Clean(osPath)
	}
	return Entry{FS: os.DirFS(filepath.Dir(abs)), Path: filepath.Base(abs)}
}

// Collector expands entries into the flat list of files beneath them
type Collector struct {
	batchSize int
}

// NewCollector creates a collector that lists directories batchSize entries at a time
func NewCollector(batchSize int) *Collector {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Collector{batchSize: batchSize}
}

// Collect returns every non-hidden regular file reachable from entries.
// Unreadable entries are logged and contribute nothing. Order is unspecified.
func (c *Collector) Collect(ctx context.Context, entries []Entry) []File {
	var (
		mu    sync.Mutex
		files []File
		g     errgroup.Group
	)
	g.SetLimit(maxTraversalGoroutines)

	w := &walker{
		ctx:       ctx,
		group:     &g,
		batchSize: c.batchSize,
		emit: func(f File) {
			mu.Lock()
			files = append(files, f)
			mu.Unlock()
		},
	}

	for _, e := range entries {
		entry := e
		w.spawn(func() { w.visitRoot(entry) })
	}
	_ = g.Wait()

	return files
}

type walker struct {
	ctx       context.Context
	group     *errgroup.Group
	batchSize int
	emit      func(File)
}

func (w *walker) spawn(fn func()) {
	ok := w.group.TryGo(func() error {
		fn()
		return nil
	})
	if !ok {
		fn()
	}
}

func (w *walker) visitRoot(e Entry) {
	if e.FS == nil {
		return
	}
	p := path.Clean(filepath.ToSlash(e.Path))
	if isHidden(path.Base(p)) {
		return
	}

	info, err := fs.Stat(e.FS, p)
	if err != nil {
		log.Printf("Collector: skipping %s: %v", p, err)
		return
	}

	switch {
	case info.IsDir():
		w.walkDir(e.FS, p)
	case info.Mode().IsRegular():
		w.emit(fsFile(e.FS, p, info.Size()))
	}
}

// walkDir lists dir page by page until the listing is exhausted, then
// descends into each subdirectory
func (w *walker) walkDir(fsys fs.FS, dir string) {
	if w.ctx.Err() != nil {
		return
	}

	f, err := fsys.Open(dir)
	if err != nil {
		log.Printf("Collector: cannot open directory %s: %v", dir, err)
		return
	}
	defer f.Close()

	rd, ok := f.(fs.ReadDirFile)
	if !ok {
		log.Printf("Collector: %s cannot be listed", dir)
		return
	}

	for {
		batch, err := rd.ReadDir(w.batchSize)
		for _, de := range batch {
			w.visitChild(fsys, dir, de)
		}
		if errors.Is(err, io.EOF) || (err == nil && len(batch) == 0) {
			return
		}
		if err != nil {
			log.Printf("Collector: listing %s stopped early: %v", dir, err)
			return
		}
	}
}

func (w *walker) visitChild(fsys fs.FS, dir string, de fs.DirEntry) {
	name := de.Name()
	if isHidden(name) {
		return
	}
	child := path.Join(dir, name)

	switch {
	case de.IsDir():
		w.spawn(func() { w.walkDir(fsys, child) })
	case de.Type().IsRegular():
		info, err := de.Info()
		if err != nil {
			log.Printf("Collector: skipping %s: %v", child, err)
			return
		}
		w.emit(fsFile(fsys, child, info.Size()))
	}
}

func fsFile(fsys fs.FS, p string, size int64) File {
	return NewFile(path.Base(p), p, size, func() (io.ReadCloser, error) {
		return fsys.Open(p)
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
