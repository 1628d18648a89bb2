// Package sandbox confines the file and command tools: file paths are
// jailed under a root directory and commands must pass an allowlist before
// a Runner executes them.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// DefaultMaxBytes caps reads and writes when the policy sets no limit.
const DefaultMaxBytes = 4 << 20

// ErrReadOnly is returned by WriteFile on a read-only root.
var ErrReadOnly = errors.New("file system is read-only")

// Root is a directory every file tool path is resolved under. Paths are
// joined with symlinks evaluated inside the root, so neither ".." nor a
// symlink can reach outside of it. Absolute paths are taken relative to the
// root.
type Root struct {
	dir      string
	readOnly bool
	maxBytes int64
	fs       afs.Service
}

// RootOption configures a Root.
type RootOption func(*Root)

// ReadOnly makes WriteFile refuse every write.
func ReadOnly(v bool) RootOption { return func(r *Root) { r.readOnly = v } }

// MaxBytes caps file sizes. Values <= 0 select DefaultMaxBytes.
func MaxBytes(n int64) RootOption {
	return func(r *Root) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// NewRoot returns a Root over dir, creating dir if needed.
func NewRoot(dir string, opts ...RootOption) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("sandbox root %q: %w", dir, err)
	}
	// Resolve the root itself once so later prefix checks compare like
	// with like.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	r := &Root{dir: abs, maxBytes: DefaultMaxBytes, fs: afs.New()}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Dir returns the absolute host path of the root.
func (r *Root) Dir() string { return r.dir }

// IsReadOnly reports whether writes are refused.
func (r *Root) IsReadOnly() bool { return r.readOnly }

// Resolve maps a caller supplied path to a host path inside the root.
func (r *Root) Resolve(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", tools.Forbidden("path contains a NUL byte")
	}
	host, err := securejoin.SecureJoin(r.dir, p)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	if host != r.dir && !strings.HasPrefix(host, r.dir+string(filepath.Separator)) {
		return "", tools.Forbidden("path %q escapes the sandbox root", p)
	}
	return host, nil
}

// ReadFile returns the contents of p.
func (r *Root) ReadFile(ctx context.Context, p string) ([]byte, error) {
	host, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	if err := exists(host, p); err != nil {
		return nil, err
	}
	obj, err := r.fs.Object(ctx, fileURL(host))
	if err != nil {
		return nil, notFound(p, err)
	}
	if obj.IsDir() {
		return nil, fmt.Errorf("EISDIR: %s is a directory", p)
	}
	if obj.Size() > r.maxBytes {
		return nil, tools.Forbidden("%s is %d bytes, above the %d byte limit", p, obj.Size(), r.maxBytes)
	}
	data, err := r.fs.Download(ctx, obj)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// WriteFile writes data to p, creating missing parent directories.
func (r *Root) WriteFile(ctx context.Context, p string, data []byte) error {
	if r.readOnly {
		return tools.Forbidden("write %s: %v", p, ErrReadOnly)
	}
	if int64(len(data)) > r.maxBytes {
		return tools.Forbidden("write %s: %d bytes is above the %d byte limit", p, len(data), r.maxBytes)
	}
	host, err := r.Resolve(p)
	if err != nil {
		return err
	}
	if host == r.dir {
		return fmt.Errorf("EISDIR: %s is a directory", p)
	}
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := r.fs.Upload(ctx, fileURL(host), 0o644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// List returns the entries of directory p as path.Join(p, name), sorted.
// With recursive set it returns only files, descending into
// subdirectories.
func (r *Root) List(ctx context.Context, p string, recursive bool) ([]string, error) {
	host, err := r.Resolve(p)
	if err != nil {
		return nil, err
	}
	if err := exists(host, p); err != nil {
		return nil, err
	}
	var out []string
	if err := r.list(ctx, host, p, recursive, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Root) list(ctx context.Context, host, display string, recursive bool, out *[]string) error {
	objects, err := r.fs.List(ctx, fileURL(host))
	if err != nil {
		return notFound(display, err)
	}
	entries, err := children(host, display, objects)
	if err != nil {
		return err
	}
	for _, obj := range entries {
		name := path.Join(display, obj.Name())
		if !recursive {
			*out = append(*out, name)
			continue
		}
		if obj.IsDir() {
			if err := r.list(ctx, filepath.Join(host, obj.Name()), name, true, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, name)
	}
	return nil
}

// children drops the listed directory itself, which afs reports as the
// first object, and sorts the rest by name.
func children(host, display string, objects []storage.Object) ([]storage.Object, error) {
	out := make([]storage.Object, 0, len(objects))
	for _, obj := range objects {
		if filepath.Clean(url.Path(obj.URL())) == host {
			if !obj.IsDir() {
				return nil, fmt.Errorf("ENOTDIR: not a directory, %s", display)
			}
			continue
		}
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func fileURL(host string) string {
	return "file://" + filepath.ToSlash(host)
}

func exists(host, p string) error {
	if _, err := os.Stat(host); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ENOENT: no such file or directory, %s", p)
	}
	return nil
}

func notFound(p string, err error) error {
	if errors.Is(err, os.ErrNotExist) || strings.Contains(strings.ToLower(err.Error()), "no such file") || strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("ENOENT: no such file or directory, %s", p)
	}
	return fmt.Errorf("%s: %w", p, err)
}
