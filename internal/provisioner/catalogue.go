package provisioner

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// manifest is the on-disk shape of templates.yaml: one raw template body per
// named file in the catalogue.
type manifest struct {
	Agent map[string]string `yaml:"agent"`
	Main  map[string]string `yaml:"main"`
}

// Catalogue holds the parsed template set for both board agents and the
// gateway main agent, rebuilt in full whenever templates.yaml changes on
// disk. Read access is protected by a mutex so a hot-reload in progress
// never races a concurrent render.
type Catalogue struct {
	mu   sync.RWMutex
	path string

	agent map[string]*template.Template
	main  map[string]*template.Template

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadCatalogue parses path (a templates.yaml manifest) into a Catalogue.
// It does not start hot-reloading; call Watch for that.
func LoadCatalogue(path string) (*Catalogue, error) {
	c := &Catalogue{path: path}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalogue) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read template manifest %s: %w", c.path, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse template manifest %s: %w", c.path, err)
	}

	agent, err := parseSet(m.Agent)
	if err != nil {
		return err
	}
	main, err := parseSet(m.Main)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.agent = agent
	c.main = main
	c.mu.Unlock()
	return nil
}

func parseSet(raw map[string]string) (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(raw))
	for name, body := range raw {
		t, err := template.New(name).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// AgentTemplate returns the named board-agent template, or false if the
// catalogue has none by that name.
func (c *Catalogue) AgentTemplate(name string) (*template.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.agent[name]
	return t, ok
}

// MainTemplate returns the named gateway-main template, or false.
func (c *Catalogue) MainTemplate(name string) (*template.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.main[name]
	return t, ok
}

// Watch starts hot-reloading the catalogue whenever templates.yaml (or the
// directory it lives in) changes, grounded on the teacher's
// internal/hotreload.Watcher debounce-and-dispatch shape. onReloadErr, if
// non-nil, receives parse errors from reloads triggered by a file event —
// the previous, still-valid catalogue remains in effect until a reload
// succeeds.
func (c *Catalogue) Watch(onReloadErr func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch template directory: %w", err)
	}

	c.watcher = w
	c.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-c.done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.reload(); err != nil && onReloadErr != nil {
					onReloadErr(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onReloadErr != nil {
					onReloadErr(err)
				}
			}
		}
	}()

	return nil
}

// Close stops hot-reloading, if it was started.
func (c *Catalogue) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}
