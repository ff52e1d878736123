// Package tags reads release tags from a git remote and reduces them to the
// latest published version of every chart.
package tags
