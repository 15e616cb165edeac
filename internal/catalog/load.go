package catalog

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// file is the on-disk shape of an engine catalog.
type file struct {
	Engines []Engine `yaml:"engines"`
}

// Load reads a YAML engine catalog from r.
//
//	engines:
//	  - name: woocommerce
//	    chart: wc-store
//	    overrides:
//	      - key: wordpress.ingress.hostname
//	        value: "{hostname}"
func Load(r io.Reader, basePath string) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode engine catalog: %w", err)
	}
	if len(f.Engines) == 0 {
		return nil, fmt.Errorf("engine catalog defines no engines")
	}

	c := New(basePath)
	for i, e := range f.Engines {
		if e.Name == "" {
			return nil, fmt.Errorf("engine %d: name is required", i)
		}
		if e.Chart == "" {
			return nil, fmt.Errorf("engine %q: chart is required", e.Name)
		}
		if c.Has(e.Name) {
			return nil, fmt.Errorf("engine %q: defined more than once", e.Name)
		}
		for _, o := range e.Overrides {
			if o.Key == "" {
				return nil, fmt.Errorf("engine %q: override key is required", e.Name)
			}
		}
		c.Register(e)
	}
	return c, nil
}

// LoadFile reads a YAML engine catalog from path.
func LoadFile(path, basePath string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open engine catalog: %w", err)
	}
	defer f.Close()
	return Load(f, basePath)
}
