package storage

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Key  string
	Size int64
}

// Store manages the persistence of lake objects addressed by slash separated
// keys such as "silver/locations/data.parquet".
type Store interface {
	// Put writes data at key, replacing any existing object in a single step.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the contents of key, or an error wrapping ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Location returns the URI of key as seen by external readers.
	Location(key string) string
}

var (
	// FileStorePerms are the permissions directories storing objects are created with.
	FileStorePerms os.FileMode = 0755

	tempFilePrefix = ".tmp-"
)

// NewFileStore creates a store which writes objects below the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	dir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, fmt.Errorf("could not resolve path '%s': %v", dir, err)
	}
	if file, err := os.Stat(dir); err != nil {
		// don't throw error if just doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not access path '%s': %v", dir, err)
		}

		if err = os.MkdirAll(dir, FileStorePerms); err != nil {
			return nil, fmt.Errorf("could not create directory '%s': %v", dir, err)
		}
	} else if !file.IsDir() {
		return nil, fmt.Errorf("the path '%s' is a file", dir)
	}

	return &FileStore{
		directory: dir,
	}, nil
}

// FileStore is an implementation of Store backed by a local directory.
type FileStore struct {
	directory string
}

// FileStore must implement the Store interface
var _ Store = &FileStore{}

// Put writes to a temporary file next to the target and renames it into
// place, so readers see either the previous or the new contents.
func (f *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := f.path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, FileStorePerms); err != nil {
		return fmt.Errorf("could not create directory '%s': %v", dir, err)
	}

	tmp, err := ioutil.TempFile(dir, tempFilePrefix)
	if err != nil {
		return fmt.Errorf("could not create temporary file in '%s': %v", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write '%s': %v", target, err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync '%s': %v", target, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close '%s': %v", target, err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move '%s' into place: %v", target, err)
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := ioutil.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "key '%s'", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %v", key, err)
	}
	return data, nil
}

func (f *FileStore) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := prefix
	if !strings.HasSuffix(base, "/") {
		base = path.Dir(base)
	}
	root := f.path(base)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var objects []Object
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempFilePrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.directory, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, Object{Key: key, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list '%s': %v", prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete '%s': %v", key, err)
	}
	return nil
}

func (f *FileStore) Location(key string) string {
	return "file://" + filepath.ToSlash(f.path(key))
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.directory, filepath.FromSlash(path.Clean("/"+key)))
}
