package executor

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dyet92k/morph/internal/language"
)

// ScratchExcludes are the patterns never copied into a scratch build.
var ScratchExcludes = []string{".git", ".git/**"}

// PrepareScratch copies the source tree at repoPath into a fresh
// directory under root and returns its path. The original tree is
// never touched. The language defaults are written only where the
// scraper does not supply its own, except the Procfile which is
// always replaced. The caller removes the directory when done.
func PrepareScratch(repoPath string, lang language.Language, root string) (string, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", err
		}
	}

	dir, err := os.MkdirTemp(root, "morph-build-")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	if err := copyTree(repoPath, dir); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to copy %s: %w", repoPath, err)
	}

	for name, content := range lang.Defaults {
		path := filepath.Join(dir, name)
		info, err := os.Lstat(path)
		if err == nil && info.Mode()&fs.ModeSymlink == 0 {
			continue
		}
		// a symlinked default counts as missing
		if err := writeScratchFile(path, content); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}

	procfile := filepath.Join(dir, language.ProcfileName)
	if err := writeScratchFile(procfile, lang.Procfile); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	// scratch copies are mounted into containers running as
	// an arbitrary user
	if err := os.Chmod(dir, 0o755); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	return dir, nil
}

// writeScratchFile replaces whatever sits at path with a regular
// file. Symlinks copied from the scraper are removed, never followed.
func writeScratchFile(path, content string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range ScratchExcludes {
		if match, err := doublestar.Match(pattern, rel); err == nil && match {
			return true
		}
	}
	return false
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
