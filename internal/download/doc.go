// Package download streams a release archive into a temporary file and
// verifies the transfer completed. It never retries.
package download
