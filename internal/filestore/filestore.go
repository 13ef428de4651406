package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"grounded-rag/internal/helper"
	"grounded-rag/internal/models"
)

const maxSaveAttempts = 10

// Local stores artifacts as plain files below a single root directory.
// Saved files are never overwritten.
type Local struct {
	root string
}

// NewLocal creates <mediaRoot>/<documentsDir> if needed.
func NewLocal(mediaRoot, documentsDir string) (*Local, error) {
	root, err := filepath.Abs(filepath.Join(mediaRoot, documentsDir))
	if err != nil {
		return nil, models.ConfigurationError("invalid media root %q: %v", mediaRoot, err)
	}
	if err := helper.CreateFolder(root); err != nil {
		return nil, models.ConfigurationError("%v", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Root() string {
	return l.root
}

// CleanName strips directory components from an uploaded file name. Names
// that reduce to nothing, such as "..", are a validation error.
func CleanName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.TrimSpace(name)))
	if base == "/" || base == "." || base == string(filepath.Separator) {
		return "", &models.Error{Kind: models.KindValidation, Op: "filestore", Msg: "Invalid file name", Err: fmt.Errorf("%q", name)}
	}
	return base, nil
}

// Save writes data to a new file called name and returns its path. When the
// name is taken a short random suffix goes before the extension.
func (l *Local) Save(name string, data []byte) (string, error) {
	base, err := CleanName(name)
	if err != nil {
		return "", err
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := base
	for range maxSaveAttempts {
		path := filepath.Join(l.root, candidate)
		err := writeExclusive(path, data)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		candidate = fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext)
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", base, maxSaveAttempts)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}

// Resolve maps a stored artifact path, absolute or relative to the root, to
// a clean absolute path. Paths that escape the root are reported as not found.
func (l *Local) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", notFound(path, errors.New("empty path"))
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(l.root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(l.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", notFound(path, errors.New("path outside storage root"))
	}
	return abs, nil
}

func (l *Local) Exists(path string) bool {
	abs, err := l.Resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the file at path. Removing a missing file is not an error.
func (l *Local) Remove(path string) error {
	abs, err := l.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", abs, err)
	}
	return nil
}

func notFound(path string, err error) error {
	return &models.Error{Kind: models.KindNotFound, Op: "filestore", Msg: "File not found", Err: fmt.Errorf("%s: %w", path, err)}
}
