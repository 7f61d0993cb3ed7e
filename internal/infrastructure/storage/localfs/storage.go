package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is a read-only corpus rooted at a directory. Keys are slash-separated
// paths relative to the root.
type Source struct {
	basePath   string
	extensions map[string]bool
}

func New(basePath string, extensions ...string) (*Source, error) {
	if basePath == "" {
		basePath = "./data/corpus"
	}
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("open corpus dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path %s is not a directory", basePath)
	}
	if len(extensions) == 0 {
		extensions = []string{".txt", ".md", ".text"}
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return &Source{basePath: basePath, extensions: allowed}, nil
}

// List returns every matching file key in lexical order. Hidden files and
// directories are skipped.
func (s *Source) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != s.basePath && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !s.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Source) Open(_ context.Context, key string) (io.ReadCloser, error) {
	local := filepath.FromSlash(key)
	if !filepath.IsLocal(local) {
		return nil, errors.New("key escapes corpus root: " + key)
	}
	f, err := os.Open(filepath.Join(s.basePath, local))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}
