// Package config defines the publisher settings and provides helpers to
// load, merge, validate and save them in YAML format.
//
// Values come from three layers: command-line arguments, an optional
// settings file and built-in defaults, in that order of precedence.
package config
