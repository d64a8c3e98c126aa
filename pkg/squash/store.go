// store.go implements the durable file-per-record occurrence queue.

package squash

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	occurrencesDirName = "occurrences"
	quarantineDirName  = "quarantine"
	recordExt          = ".json"
	tempExt            = ".tmp"

	// staleTempAge is how old an orphaned temp file must be before List
	// removes it. Younger ones may belong to a concurrent Append.
	staleTempAge = time.Hour
)

// Entry is one listed record. Err wraps ErrCorruptRecord when the file
// could not be decoded; Occurrence is then zero.
type Entry struct {
	ID         string
	Occurrence Occurrence
	Err        error
}

// Store is a durable queue of occurrences, one file per record, rooted at
// <root>/occurrences. Every operation targets one file and is safe to run
// concurrently with other processes using the same root.
type Store struct {
	dir        string
	quarantine string
	now        func() time.Time
}

// NewStore creates the occurrences directory under root if needed.
func NewStore(root string) (*Store, error) {
	s := &Store{
		dir:        filepath.Join(root, occurrencesDirName),
		quarantine: filepath.Join(root, quarantineDirName),
		now:        time.Now,
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create occurrences dir: %w", err)
	}
	return s, nil
}

// Dir returns the occurrences directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// Append persists o by writing a temp file, syncing it and renaming it into
// place, so a reader never sees a partial record.
func (s *Store) Append(o Occurrence) error {
	data, err := MarshalOccurrence(o)
	if err != nil {
		return fmt.Errorf("encode occurrence %s: %w", o.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+o.ID+"-*"+tempExt)
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, s.path(o.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

// AppendDirect persists o with a single write to a freshly created file.
// It is used on the signal path where the fewest steps matter most; a
// write cut short by process death leaves a record that List reports as
// corrupt rather than one that breaks the queue.
func (s *Store) AppendDirect(o Occurrence) error {
	data, err := MarshalOccurrence(o)
	if err != nil {
		return fmt.Errorf("encode occurrence %s: %w", o.ID, err)
	}
	f, err := os.OpenFile(s.path(o.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write record: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close record: %w", cerr)
	}
	return nil
}

// List returns every record currently queued. Order is not meaningful.
// Files that vanish during enumeration are skipped; undecodable files are
// returned with Err set.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read occurrences dir: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") {
			s.removeStaleTemp(de)
			continue
		}
		if !isRecordName(name) {
			continue
		}
		id := strings.TrimSuffix(name, recordExt)

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			entries = append(entries, Entry{ID: id, Err: fmt.Errorf("%w: %v", ErrCorruptRecord, err)})
			continue
		}

		o, err := UnmarshalOccurrence(data)
		if err == nil && o.ID != id {
			err = fmt.Errorf("%w: id %q stored as %q", ErrCorruptRecord, o.ID, id)
		}
		if err != nil {
			entries = append(entries, Entry{ID: id, Err: err})
			continue
		}
		entries = append(entries, Entry{ID: id, Occurrence: o})
	}
	return entries, nil
}

func (s *Store) removeStaleTemp(de fs.DirEntry) {
	if !strings.HasSuffix(de.Name(), tempExt) {
		return
	}
	info, err := de.Info()
	if err != nil {
		return
	}
	if s.now().Sub(info.ModTime()) > staleTempAge {
		_ = os.Remove(filepath.Join(s.dir, de.Name()))
	}
}

// Len returns the number of record files, decodable or not. It counts the
// same names List returns.
func (s *Store) Len() (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read occurrences dir: %w", err)
	}
	n := 0
	for _, de := range dirEntries {
		if !de.IsDir() && isRecordName(de.Name()) {
			n++
		}
	}
	return n, nil
}

// isRecordName reports whether name is <uuid>.json.
func isRecordName(name string) bool {
	id, ok := strings.CutSuffix(name, recordExt)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Remove deletes the record for id. Removing a missing record is not an
// error.
func (s *Store) Remove(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("remove record: invalid id %q", id)
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record %s: %w", id, err)
	}
	return nil
}

// Quarantine moves the record for id out of the queue into
// <root>/quarantine. A missing record is not an error.
func (s *Store) Quarantine(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("quarantine record: invalid id %q", id)
	}
	if err := os.MkdirAll(s.quarantine, 0o700); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	err := os.Rename(s.path(id), filepath.Join(s.quarantine, id+recordExt))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("quarantine record %s: %w", id, err)
	}
	return nil
}
