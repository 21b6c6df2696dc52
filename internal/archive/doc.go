// Package archive unpacks a downloaded server distribution into a staging
// directory. Only zip archives are supported, which is what the catalog serves.
//
// Every entry name is validated before the first byte is written: if any entry
// would land outside the staging root the whole archive is rejected.
package archive
