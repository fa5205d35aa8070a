// Package registry is the versioned artifact store the cleaning step reads
// its input from and publishes its output to.
//
// Every registered file becomes an immutable artifact version, numbered
// from 1 per name and addressed as NAME:vN. Aliases point at exactly one
// version of a name; "latest" always moves to the newest registration.
// File content is stored once per sha256 digest and re-verified on use, so
// a tampered or truncated blob is reported instead of silently read.
//
// Local keeps metadata in a bbolt database and blobs in a directory next
// to it. Components that want lineage pass a Run; the registry reports
// each use and registration to it.
package registry
