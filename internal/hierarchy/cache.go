// internal/hierarchy/cache.go
package hierarchy

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/tracecheck/api/schemas"
)

// ErrNoInstalledApps marks a state for which no installed-apps list was
// captured. Executions usually record the list at a few steps only.
var ErrNoInstalledApps = errors.New("no installed-apps list recorded")

// entry memoizes one load, failures included, so a broken artifact is read
// once per cache.
type entry struct {
	value any
	err   error
}

// Cache loads trace artifacts lazily and memoizes them by path. The same
// ground-truth state is compared against many candidate states, so each
// hierarchy, sidecar, screenshot and installed-apps list is decoded once.
// Concurrent requests for the same path share a single load.
type Cache struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// NewCache creates an empty Cache.
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		logger:  logger.Named("hierarchy"),
		entries: make(map[string]entry),
	}
}

func (c *Cache) load(kind, path string, fn func([]byte) (any, error)) (any, error) {
	key := kind + ":" + path
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e.value, e.err
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		data, err := os.ReadFile(path)
		var value any
		if err == nil {
			value, err = fn(data)
		}
		c.mu.Lock()
		c.entries[key] = entry{value: value, err: err}
		c.mu.Unlock()
		if err != nil {
			c.logger.Debug("Artifact unavailable", zap.String("kind", kind), zap.String("path", path), zap.Error(err))
		}
		return value, err
	})
	return v, err
}

// Tree returns the parsed view hierarchy at path. Missing or unparseable
// files are reported as ErrHierarchyUnavailable.
func (c *Cache) Tree(path string) (*Tree, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no hierarchy recorded", schemas.ErrHierarchyUnavailable)
	}
	v, err := c.load("tree", path, func(b []byte) (any, error) { return ParseTree(b) })
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", schemas.ErrHierarchyUnavailable, path, err)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v.(*Tree), nil
}

// Sidecar returns the decoded sidecar at path. A missing sidecar on an
// annotated state is a corrupt fixture.
func (c *Cache) Sidecar(path string) (Sidecar, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no sidecar recorded", schemas.ErrCorruptFixture)
	}
	v, err := c.load("sidecar", path, func(b []byte) (any, error) { return ParseSidecar(b) })
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", schemas.ErrCorruptFixture, path, err)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v.(Sidecar), nil
}

// Image returns the decoded screenshot at path.
func (c *Cache) Image(path string) (image.Image, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no screenshot recorded", schemas.ErrCorruptFixture)
	}
	v, err := c.load("image", path, func(b []byte) (any, error) {
		img, _, err := image.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%w: screenshot: %v", schemas.ErrCorruptFixture, err)
		}
		return img, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v.(image.Image), nil
}

// ImageSize returns the pixel dimensions of the screenshot at path.
func (c *Cache) ImageSize(path string) (width, height int, err error) {
	img, err := c.Image(path)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// InstalledApps returns the lower-cased package names listed at path. An
// empty path or a missing file is ErrNoInstalledApps.
func (c *Cache) InstalledApps(path string) (map[string]struct{}, error) {
	if path == "" {
		return nil, ErrNoInstalledApps
	}
	v, err := c.load("apps", path, func(b []byte) (any, error) { return parseInstalledApps(b) })
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoInstalledApps, path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v.(map[string]struct{}), nil
}

func parseInstalledApps(data []byte) (map[string]struct{}, error) {
	apps := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		// adb output prefixes each entry with "package:".
		line = strings.TrimPrefix(line, "package:")
		if line != "" {
			apps[line] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read installed-apps list: %w", err)
	}
	return apps, nil
}
