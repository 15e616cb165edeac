// Package catalog maps a store type to the deployment template that
// materializes it: the chart location, the values file used in each
// environment mode, and a table of per-engine override arguments rendered
// from the job's hostname and store id.
package catalog
