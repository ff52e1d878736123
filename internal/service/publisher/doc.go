// Package publisher runs a publishing pass: it locks the workspace, plans
// which charts need a release, builds them and writes the merged index.
package publisher
