// Package release contains the core domain types of an update run.
//
// It defines the Channel enumeration with its catalog download types, the
// Descriptor resolved from the remote catalog, and Decide, the pure rule that
// turns cached and resolved identities into an APPLY or SKIP action.
package release
