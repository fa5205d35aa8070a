// Package cli builds the cleanstep command tree on cobra, translates flags
// into configuration settings and maps errors to process exit codes.
package cli
