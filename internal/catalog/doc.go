// Package catalog resolves the current download link of a channel from the
// remote catalog endpoint. Results are never cached: every Resolve makes one
// request and reflects the catalog as it is right now.
package catalog
