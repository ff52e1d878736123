// Package builder packages planned charts with the external packaging tool
// and moves the artifacts into the locked workspace.
//
// Every invocation is bounded by a timeout. A non-zero exit status, an
// expired timeout or an artifact that is not a gzip archive fails the whole
// run; artifacts built before the failure stay in the workspace.
package builder
