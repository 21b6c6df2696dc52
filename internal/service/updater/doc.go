// Package updater runs one update of a server installation.
//
// It resolves the channel's current download link, compares it with the links
// cache, and when an update is due downloads the archive into a temporary
// directory, extracts it, merges it into the installation and records the new
// link. A run that skips touches neither the network beyond the catalog nor
// the installation.
package updater
