package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// ErrUnsafePath is returned for archive entries that would be written
// outside the extraction directory
var ErrUnsafePath = errors.New("unsafe path in archive")

// Entry records how a member was stored so it can be written back the same way
type Entry struct {
	Name     string
	Method   uint16
	Modified time.Time
	Mode     fs.FileMode
	Dir      bool
}

// Manifest lists the members of an archive in their original order
type Manifest struct {
	Entries []Entry
	Comment string
}

// WorkDir creates a unique working directory for a deck under base, or the
// system temp directory when base is empty
func WorkDir(base, deckName string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0755); err != nil {
			return "", fmt.Errorf("failed to create work directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "decktranslate-"+deckName+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	return dir, nil
}

// Extract unpacks the archive at src into dest and returns its manifest
func Extract(src, dest string) (*Manifest, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", src, err)
	}
	defer r.Close()

	m := &Manifest{Comment: r.Comment}
	for _, f := range r.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return nil, err
		}

		entry := Entry{
			Name:     f.Name,
			Method:   f.Method,
			Modified: f.Modified,
			Mode:     f.Mode(),
			Dir:      strings.HasSuffix(f.Name, "/"),
		}
		m.Entries = append(m.Entries, entry)

		if entry.Dir {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", f.Name, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// safeJoin resolves name under dir and rejects absolute paths and
// parent references
func safeJoin(dir, name string) (string, error) {
	clean := strings.TrimSuffix(name, "/")
	if clean == "" || strings.Contains(clean, "\\") || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}

// Pack writes the members listed in m, read from srcDir, to dest. Entries
// keep their order, names, compression methods and timestamps. The archive
// is written to a temporary file in the destination directory and renamed
// into place.
func Pack(m *Manifest, srcDir, dest string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, e := range m.Entries {
		if err := writeEntry(zw, e, srcDir); err != nil {
			return err
		}
	}
	if m.Comment != "" {
		if err := zw.SetComment(m.Comment); err != nil {
			return fmt.Errorf("failed to set archive comment: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	return nil
}

func writeEntry(zw *zip.Writer, e Entry, srcDir string) error {
	header := &zip.FileHeader{
		Name:     e.Name,
		Method:   e.Method,
		Modified: e.Modified,
	}
	if e.Mode != 0 {
		header.SetMode(e.Mode)
	}

	if e.Dir {
		header.Method = zip.Store
		_, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to add directory %s: %w", e.Name, err)
		}
		return nil
	}

	path, err := safeJoin(srcDir, e.Name)
	if err != nil {
		return err
	}
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.Name, err)
	}
	defer in.Close()

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", e.Name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to write %s: %w", e.Name, err)
	}
	return nil
}

// Clean removes dir bottom-up: every file first, then directories from the
// deepest level upwards. A missing dir is not an error.
func Clean(dir string) error {
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	var files, dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		} else {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
		}
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, d := range dirs {
		if err := os.Remove(d); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	return nil
}
