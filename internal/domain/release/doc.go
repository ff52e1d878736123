// Package release holds the pure data model of a chart release run:
// version sets built from repository tags, package definitions read from
// chart manifests, the release plan, built artifacts and the published
// repository index document.
//
// Nothing in this package performs I/O.
package release
