// Package index reads the published repository index over HTTP and writes
// the merged one into the workspace.
//
// A missing or unreachable remote index is not an error: the caller gets
// nil and treats the run as the first publication. A remote index that
// downloads fine but cannot be decoded is an error.
package index
