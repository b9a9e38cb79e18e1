package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// DefinitionExt is the file extension of workflow definitions.
const DefinitionExt = ".json"

var (
	ErrInvalidName = errors.New("invalid workflow name")
	ErrNotFound    = errors.New("workflow not found")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Resolver maps untrusted workflow names to definition files inside a
// single directory.
type Resolver struct {
	fs  afero.Fs
	dir string
}

func NewResolver(fs afero.Fs, dir string) *Resolver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Resolver{fs: fs, dir: dir}
}

// Dir returns the directory workflows are resolved against.
func (r *Resolver) Dir() string {
	return r.dir
}

// ValidName reports whether name matches the workflow name grammar.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Resolve returns the definition path for name. The name must pass the
// grammar, the joined path must still sit under the directory as name.json
// once resolved, and the file must exist.
func (r *Resolver) Resolve(name string) (string, error) {
	if !ValidName(name) {
		return "", ErrInvalidName
	}
	candidate := filepath.Join(r.dir, name+DefinitionExt)
	if err := checkRelative(r.dir, candidate, name); err != nil {
		return "", err
	}
	info, err := r.fs.Stat(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to stat workflow %s: %w", name, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if _, ok := r.fs.(*afero.OsFs); ok {
		if err := checkLinks(r.dir, candidate); err != nil {
			return "", err
		}
	}
	return candidate, nil
}

func checkRelative(dir, candidate, name string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow dir: %w", err)
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow path: %w", err)
	}
	rel, err := filepath.Rel(absDir, absCandidate)
	if err != nil || !strings.HasPrefix(rel, name) {
		return ErrInvalidName
	}
	return nil
}

func checkLinks(dir, candidate string) error {
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow dir: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return fmt.Errorf("failed to resolve workflow path: %w", err)
	}
	rel, err := filepath.Rel(realDir, realPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) ||
		filepath.IsAbs(rel) {
		return fmt.Errorf("%w: resolves outside workflow directory", ErrInvalidName)
	}
	return nil
}
