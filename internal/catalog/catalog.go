package catalog

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/seantiz/urumi/internal/endpoint"
)

// Built-in engine names.
const (
	EngineWooCommerce = "woocommerce"
	EngineMedusa      = "medusa"
)

const (
	defaultValuesProduction = "values-prod.yaml"
	defaultValuesLocal      = "values-local.yaml"
)

// ErrUnknownEngine is returned when a store type is not registered.
var ErrUnknownEngine = errors.New("unknown engine")

// Override is a single key/value argument passed to the deployment tool.
// Value may reference {hostname} and {storeId}.
type Override struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// Engine describes one deployable class of store.
type Engine struct {
	Name             string     `yaml:"name" json:"type"`
	Chart            string     `yaml:"chart" json:"chart"`
	ValuesProduction string     `yaml:"valuesProduction,omitempty" json:"-"`
	ValuesLocal      string     `yaml:"valuesLocal,omitempty" json:"-"`
	Overrides        []Override `yaml:"overrides,omitempty" json:"-"`
}

// Vars are the per-job inputs substituted into override values.
type Vars struct {
	StoreID  string
	Hostname string
}

// Template is an engine resolved for one job: everything the deployment
// driver needs besides the release name and timeout.
type Template struct {
	Chart      string
	ValuesFile string
	Overrides  []Override
}

// Catalog holds registered engines keyed by name. It is safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	basePath string
	engines  map[string]Engine
}

// New creates an empty catalog resolving relative chart paths against basePath.
func New(basePath string) *Catalog {
	return &Catalog{
		basePath: basePath,
		engines:  make(map[string]Engine),
	}
}

// Default returns the built-in catalog: a WooCommerce store whose ingress
// hostname is bound per store, and a Medusa stub.
func Default(basePath string) *Catalog {
	c := New(basePath)
	c.Register(Engine{
		Name:  EngineWooCommerce,
		Chart: "wc-store",
		Overrides: []Override{
			{Key: "wordpress.ingress.hostname", Value: "{hostname}"},
		},
	})
	c.Register(Engine{
		Name:  EngineMedusa,
		Chart: "medusa-stub",
	})
	return c
}

// Register adds or replaces an engine.
func (c *Catalog) Register(e Engine) {
	if e.ValuesProduction == "" {
		e.ValuesProduction = defaultValuesProduction
	}
	if e.ValuesLocal == "" {
		e.ValuesLocal = defaultValuesLocal
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines[e.Name] = e
}

// Lookup returns the engine registered under name.
func (c *Catalog) Lookup(name string) (Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.engines[name]
	if !ok {
		return Engine{}, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// Has reports whether name is a registered engine.
func (c *Catalog) Has(name string) bool {
	_, err := c.Lookup(name)
	return err == nil
}

// List returns all engines sorted by name for a stable API response.
func (c *Catalog) List() []Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()

	engines := make([]Engine, 0, len(c.engines))
	for _, e := range c.engines {
		engines = append(engines, e)
	}
	sort.Slice(engines, func(i, j int) bool {
		return engines[i].Name < engines[j].Name
	})
	return engines
}

// Resolve builds the deployment template for engine name in the given mode.
func (c *Catalog) Resolve(name, mode string, vars Vars) (Template, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return Template{}, err
	}

	chart := c.chartPath(e.Chart)
	values := e.ValuesLocal
	if mode == endpoint.ModeProduction {
		values = e.ValuesProduction
	}

	r := strings.NewReplacer("{hostname}", vars.Hostname, "{storeId}", vars.StoreID)
	overrides := make([]Override, len(e.Overrides))
	for i, o := range e.Overrides {
		overrides[i] = Override{Key: o.Key, Value: r.Replace(o.Value)}
	}

	return Template{
		Chart:      chart,
		ValuesFile: valuesPath(chart, values),
		Overrides:  overrides,
	}, nil
}

// chartPath joins relative chart references onto the base path. Absolute
// paths and repository references (oci://, https://) are used as given.
func (c *Catalog) chartPath(chart string) string {
	if filepath.IsAbs(chart) || strings.Contains(chart, "://") {
		return chart
	}
	return filepath.Join(c.basePath, chart)
}

func valuesPath(chart, values string) string {
	if filepath.IsAbs(values) || strings.Contains(chart, "://") {
		return values
	}
	return filepath.Join(chart, values)
}
