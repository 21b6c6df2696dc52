// Package config defines the updater settings and provides helpers to load,
// validate and save them in YAML format.
//
// Command-line flags override values read from the file; Validate fills in the
// catalog endpoint, cache location, default exclusions and timeouts.
package config
