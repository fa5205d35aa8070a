// Package app wires the cleaning step together: it owns the registry
// database, the run store and the tracking sink, and drives one run through
// resolving, transforming and publishing. It knows nothing about the
// command line.
package app
