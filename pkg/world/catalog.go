package world

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Catalog knows which Worlds exist and where their stores live.
type Catalog interface {
	// Path returns the location handed to the Opener for a World.
	Path(name string) string
	// Prepare runs before a store is opened with create semantics.
	Prepare() error
	// List returns every World name, sorted.
	List() ([]string, error)
	Exists(name string) bool
	// Remove deletes a World's store. A missing World is fs.ErrNotExist.
	Remove(name string) error
}

// FileCatalog keeps each World in <Dir>/<Prefix><name>.db.
type FileCatalog struct {
	Dir    string
	Prefix string
}

func (c FileCatalog) Path(name string) string {
	return filepath.Join(c.Dir, c.Prefix+name+".db")
}

func (c FileCatalog) Prepare() error {
	return os.MkdirAll(c.Dir, 0o755)
}

// List returns the Worlds in Dir. A missing Dir holds no Worlds.
func (c FileCatalog) List() ([]string, error) {
	info, err := os.Stat(c.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", c.Dir)
	}

	matches, err := doublestar.Glob(os.DirFS(c.Dir), c.Prefix+"*.db")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, f := range matches {
		name := strings.TrimSuffix(strings.TrimPrefix(f, c.Prefix), ".db")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c FileCatalog) Exists(name string) bool {
	_, err := os.Stat(c.Path(name))
	return err == nil
}

// Remove deletes the store file and its SQLite side files.
func (c FileCatalog) Remove(name string) error {
	path := c.Path(name)
	if _, err := os.Stat(path); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
