package catalog_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seantiz/urumi/internal/catalog"
	"github.com/seantiz/urumi/internal/endpoint"
)

func TestDefaultCatalogList(t *testing.T) {
	c := catalog.Default("/charts")

	list := c.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d engines, want 2", len(list))
	}
	if list[0].Name != catalog.EngineMedusa || list[1].Name != catalog.EngineWooCommerce {
		t.Errorf("List() order = [%s %s], want [medusa woocommerce]", list[0].Name, list[1].Name)
	}
}

func TestLookupUnknown(t *testing.T) {
	c := catalog.Default("/charts")

	_, err := c.Lookup("shopify")
	if !errors.Is(err, catalog.ErrUnknownEngine) {
		t.Fatalf("Lookup error = %v, want ErrUnknownEngine", err)
	}
	if c.Has("shopify") {
		t.Error("Has(shopify) = true")
	}
	if !c.Has(catalog.EngineWooCommerce) {
		t.Error("Has(woocommerce) = false")
	}
}

func TestResolveWooCommerce(t *testing.T) {
	c := catalog.Default("/srv/charts")
	vars := catalog.Vars{StoreID: "urumi-ab12c", Hostname: "urumi-ab12c.localtest.me"}

	tmpl, err := c.Resolve(catalog.EngineWooCommerce, endpoint.ModeLocal, vars)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tmpl.Chart != "/srv/charts/wc-store" {
		t.Errorf("Chart = %q", tmpl.Chart)
	}
	if tmpl.ValuesFile != "/srv/charts/wc-store/values-local.yaml" {
		t.Errorf("ValuesFile = %q", tmpl.ValuesFile)
	}
	if len(tmpl.Overrides) != 1 {
		t.Fatalf("got %d overrides, want 1", len(tmpl.Overrides))
	}
	o := tmpl.Overrides[0]
	if o.Key != "wordpress.ingress.hostname" || o.Value != vars.Hostname {
		t.Errorf("override = %+v", o)
	}
}

func TestResolveProductionValues(t *testing.T) {
	c := catalog.Default("/srv/charts")

	tmpl, err := c.Resolve(catalog.EngineMedusa, endpoint.ModeProduction, catalog.Vars{StoreID: "urumi-00001"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tmpl.ValuesFile != "/srv/charts/medusa-stub/values-prod.yaml" {
		t.Errorf("ValuesFile = %q", tmpl.ValuesFile)
	}
	if len(tmpl.Overrides) != 0 {
		t.Errorf("medusa overrides = %v, want none", tmpl.Overrides)
	}
}

func TestResolveDoesNotMutateEngine(t *testing.T) {
	c := catalog.Default("/charts")

	if _, err := c.Resolve(catalog.EngineWooCommerce, endpoint.ModeLocal, catalog.Vars{Hostname: "a.example"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	e, _ := c.Lookup(catalog.EngineWooCommerce)
	if e.Overrides[0].Value != "{hostname}" {
		t.Errorf("registered override rewritten to %q", e.Overrides[0].Value)
	}
}

func TestResolveRemoteChart(t *testing.T) {
	c := catalog.New("/charts")
	c.Register(catalog.Engine{
		Name:             "saleor",
		Chart:            "oci://registry.example.com/charts/saleor",
		ValuesProduction: "/etc/urumi/saleor-prod.yaml",
	})

	tmpl, err := c.Resolve("saleor", endpoint.ModeProduction, catalog.Vars{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tmpl.Chart != "oci://registry.example.com/charts/saleor" {
		t.Errorf("Chart = %q", tmpl.Chart)
	}
	if tmpl.ValuesFile != "/etc/urumi/saleor-prod.yaml" {
		t.Errorf("ValuesFile = %q", tmpl.ValuesFile)
	}
}

func TestLoad(t *testing.T) {
	doc := `
engines:
  - name: woocommerce
    chart: wc-store
    overrides:
      - key: wordpress.ingress.hostname
        value: "{hostname}"
      - key: wordpress.fullnameOverride
        value: "{storeId}-wp"
  - name: medusa
    chart: medusa-stub
    valuesLocal: values-dev.yaml
`
	c, err := catalog.Load(strings.NewReader(doc), "/charts")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tmpl, err := c.Resolve("woocommerce", endpoint.ModeLocal, catalog.Vars{StoreID: "urumi-1", Hostname: "h"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(tmpl.Overrides) != 2 || tmpl.Overrides[1].Value != "urumi-1-wp" {
		t.Errorf("overrides = %+v", tmpl.Overrides)
	}

	tmpl, err = c.Resolve("medusa", endpoint.ModeLocal, catalog.Vars{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if tmpl.ValuesFile != "/charts/medusa-stub/values-dev.yaml" {
		t.Errorf("ValuesFile = %q", tmpl.ValuesFile)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "engines: []\n",
		"missing name":   "engines:\n  - chart: x\n",
		"missing chart":  "engines:\n  - name: x\n",
		"duplicate":      "engines:\n  - name: x\n    chart: a\n  - name: x\n    chart: b\n",
		"unknown field":  "engines:\n  - name: x\n    chart: a\n    replicas: 3\n",
		"empty override": "engines:\n  - name: x\n    chart: a\n    overrides:\n      - value: v\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := catalog.Load(strings.NewReader(doc), "/charts"); err == nil {
				t.Error("Load succeeded, want error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engines.yaml")
	if err := os.WriteFile(path, []byte("engines:\n  - name: medusa\n    chart: medusa-stub\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := catalog.LoadFile(path, "/charts")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !c.Has("medusa") || c.Has("woocommerce") {
		t.Errorf("engines = %v", c.List())
	}

	if _, err := catalog.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), "/charts"); err == nil {
		t.Error("LoadFile on missing file succeeded")
	}
}
