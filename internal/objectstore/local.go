// Package objectstore keeps uploaded document bytes on the local filesystem.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ragfolio/internal/util"
)

// Store is what the document service and the ingest processor need.
type Store interface {
	Save(ctx context.Context, tenantID, fileName string, data []byte) (string, error)
	Read(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) (bool, error)
}

type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := util.EnsureDir(abs); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Save writes data under <root>/<tenant>/<uuid><ext> and returns the
// root-relative locator.
func (l *Local) Save(ctx context.Context, tenantID, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tenant := safeSegment(tenantID)
	if tenant == "" {
		return "", errors.New("tenant id required")
	}
	locator := path.Join(tenant, uuid.NewString()+strings.ToLower(filepath.Ext(fileName)))
	full, err := util.WithinRoot(l.root, filepath.FromSlash(locator))
	if err != nil {
		return "", err
	}
	if err := util.WriteFileAtomic(full, data); err != nil {
		return "", fmt.Errorf("save object: %w", err)
	}
	return locator, nil
}

func (l *Local) Read(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := util.WithinRoot(l.root, filepath.FromSlash(locator))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", locator, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete reports whether a file was removed. A missing file is not an error.
func (l *Local) Delete(ctx context.Context, locator string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := util.WithinRoot(l.root, filepath.FromSlash(locator))
	if err != nil {
		return false, err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	return true, nil
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
