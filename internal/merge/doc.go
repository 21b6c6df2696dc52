// Package merge promotes a staged server distribution into the live
// installation directory.
//
// Every staged file is copied to the same relative path in the installation,
// except paths matching the exclusion set that already exist there: those are
// operator-owned and left untouched. Each file is replaced atomically through a
// sibling temporary file and a rename, but the merge as a whole is not: a crash
// part way through leaves a mix of old and new files, and a failure aborts
// without rolling back files already promoted.
//
// Files present only in the installation are kept. With Options.Prune, files
// that a previous merge installed (recorded in the managed-file manifest) and
// that the new distribution no longer ships are removed.
package merge
