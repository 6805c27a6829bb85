package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hyodotdev/locanara/internal/common/fsutil"
	"github.com/hyodotdev/locanara/pkg/types"
)

// Catalog tracks the set of locally downloaded models by scanning a models
// directory for *.gguf files. It answers the router's "is this model
// downloaded" question; it never loads anything.
type Catalog struct {
	dir string
	log zerolog.Logger

	mu     sync.RWMutex
	models map[string]types.Model
}

// Open scans dir and returns a catalog over it. A missing directory is not
// an error; the catalog is simply empty until a refresh finds files.
func Open(dir string, log zerolog.Logger) (*Catalog, error) {
	abs, err := normalizeDir(dir)
	if err != nil {
		return nil, err
	}
	c := &Catalog{dir: abs, log: log, models: map[string]types.Model{}}
	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the absolute models directory.
func (c *Catalog) Dir() string { return c.dir }

// Refresh rescans the models directory.
func (c *Catalog) Refresh() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.models = map[string]types.Model{}
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read models dir: %w", err)
	}

	models := make(map[string]types.Model)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		p := filepath.Join(c.dir, name)
		mdl := types.Model{
			ID:    strings.TrimSuffix(name, filepath.Ext(name)),
			Name:  name,
			Path:  p,
			Quant: guessQuant(name),
		}
		if fi, err := os.Stat(p); err == nil {
			mdl.SizeMB = int(fi.Size() / (1024 * 1024))
			if mdl.SizeMB <= 0 {
				mdl.SizeMB = 1
			}
		}
		models[mdl.ID] = mdl
	}

	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	c.log.Debug().Int("models", len(models)).Str("dir", c.dir).Msg("catalog refreshed")
	return nil
}

// List returns all downloaded models, sorted by id.
func (c *Catalog) List() []types.Model {
	c.mu.RLock()
	out := make([]types.Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a model by id.
func (c *Catalog) Get(id string) (types.Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Has reports whether the model is downloaded.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

var quantRe = regexp.MustCompile(`(?i)(q[2-8]_[a-z0-9_]+|q[2-8]|int[48]|f(p)?16|f(p)?32)`)

// guessQuant extracts a quantization tag from a model filename.
func guessQuant(name string) string {
	return quantRe.FindString(name)
}

func normalizeDir(dir string) (string, error) {
	expanded, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}
