// Package storage replaces files on disk atomically.
//
// The new contents are staged next to the target, verified against their
// checksum and renamed over the target, so readers never observe a
// half-written index or manifest.
package storage
