// Package planner decides which charts have to be built in a run.
package planner
