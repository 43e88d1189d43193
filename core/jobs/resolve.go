package jobs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/josephlewis42/pipesh/core/env"
	"github.com/spf13/afero"
)

// SearchPath returns the paths that will be tried, in order, to run file.
// If file contains a slash, it is tried directly and the PATH is not
// consulted.
func SearchPath(e env.Env, file string) []string {
	if strings.Contains(file, "/") {
		return []string{file}
	}

	var out []string
	for _, dir := range filepath.SplitList(e.Getenv("PATH")) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		out = append(out, filepath.Join(dir, file))
	}
	return out
}

// Resolver starts programs by trying every PATH candidate.
type Resolver struct {
	Env env.Env
}

// Start runs argv in a new process. It returns the process and the path that
// was executed.
//
// ErrCommandNotFound is returned if no candidate exists, ErrExecution if at
// least one existed but couldn't be executed.
func (r *Resolver) Start(argv []string, attr *os.ProcAttr) (*os.Process, string, error) {
	if len(argv) == 0 {
		return nil, "", fmt.Errorf("empty command: %w", ErrCommandNotFound)
	}

	var execErr error
	for _, candidate := range SearchPath(r.Env, argv[0]) {
		proc, err := os.StartProcess(candidate, argv, attr)
		if err == nil {
			return proc, candidate, nil
		}
		if execErr == nil && !isNotFound(err) {
			execErr = err
		}
	}

	if execErr != nil {
		return nil, "", fmt.Errorf("%s: %w: %v", argv[0], ErrExecution, unwrapPathError(execErr))
	}
	return nil, "", fmt.Errorf("%s: %w", argv[0], ErrCommandNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func unwrapPathError(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	return err
}

func findExecutable(fsys afero.Fs, file string) error {
	d, err := fsys.Stat(file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrCommandNotFound
	case err != nil:
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return fs.ErrPermission
}

// LookPath reports the executable that running file would use without
// starting it. The result may be an absolute path or a path relative to the
// current directory.
func LookPath(fsys afero.Fs, e env.Env, file string) (string, error) {
	var firstErr error
	for _, path := range SearchPath(e, file) {
		err := findExecutable(fsys, path)
		if err == nil {
			return path, nil
		}
		if firstErr == nil && !errors.Is(err, ErrCommandNotFound) {
			firstErr = err
		}
	}

	if firstErr != nil {
		return "", fmt.Errorf("%s: %w: %v", file, ErrExecution, firstErr)
	}
	return "", fmt.Errorf("%s: %w", file, ErrCommandNotFound)
}
