// Package links persists the download link last applied for each channel.
//
// The FileRepository stores the record as JSON. Loading never fails: a missing
// or unreadable file yields an empty record, which makes the next run apply.
// Saving writes a sibling temporary file and renames it over the record.
package links
