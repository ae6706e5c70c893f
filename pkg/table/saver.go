package table

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// TempPrefix is the name prefix of the temporary file created next to the
// destination while a table is being written
const TempPrefix = "tmp_petpal_"

// WriteFunc persists a dataset to path
type WriteFunc func(ds *Dataset, path string) error

// Saver saves datasets as CSV or TSV files based on the output path.
// By default files are written atomically: the table is serialized into a
// temporary file in the destination directory and renamed over the target.
type Saver struct {
	write      WriteFunc
	separators Separators
	perm       os.FileMode
}

// Option configures a Saver
type Option func(*Saver)

// WithWriteFunc replaces the persistence strategy, mainly for tests
func WithWriteFunc(fn WriteFunc) Option {
	return func(s *Saver) {
		s.write = fn
	}
}

// WithSeparators replaces the extension to separator table
func WithSeparators(seps Separators) Option {
	return func(s *Saver) {
		s.separators = seps
	}
}

// WithPerm sets the permission bits of written files (default 0644)
func WithPerm(perm os.FileMode) Option {
	return func(s *Saver) {
		s.perm = perm
	}
}

// NewSaver creates a Saver using the atomic strategy unless overridden
func NewSaver(opts ...Option) *Saver {
	s := &Saver{
		separators: DefaultSeparators(),
		perm:       0644,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.write == nil {
		s.write = s.atomicSave
	}
	return s
}

// Save writes ds to path using the configured strategy
func (s *Saver) Save(ds *Dataset, path string) error {
	if ds == nil {
		return errors.New("dataset is nil")
	}
	if path == "" {
		return errors.New("output path is empty")
	}
	return s.write(ds, path)
}

// atomicSave serializes ds into a temporary file in the destination
// directory and renames it into place. The temporary file is removed on any
// failure; the destination keeps its previous content in that case.
func (s *Saver) atomicSave(ds *Dataset, path string) error {
	sep, err := s.separators.Lookup(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, TempPrefix+"*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("error creating temporary table file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithFields(log.Fields{
					"tmp":   tmpName,
					"error": rmErr,
				}).Warn("Could not remove temporary table file")
			}
		}
	}()

	if err := encodeRecords(tmp, ds.records(), sep); err != nil {
		return fmt.Errorf("error writing table: %w", err)
	}
	if err := tmp.Chmod(s.perm); err != nil {
		return fmt.Errorf("error setting table permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("error syncing table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing table: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("error replacing %s: %w", path, err)
	}
	committed = true

	log.WithFields(log.Fields{
		"path": path,
		"rows": ds.Len(),
	}).Debug("Saved table")
	return nil
}
