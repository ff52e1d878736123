// Package workspace implements the cross-process lock over the shared build
// directory.
//
// A lock file inside the workspace records the owner pid and acquisition
// time. A fresh lock file blocks every other acquirer; one whose modification
// time is older than the staleness threshold is treated as abandoned. Each
// successful acquisition wipes the workspace, so a run always starts empty.
//
// The check-wipe-write sequence and the ownership check on release run under
// an advisory flock on a sibling "<workspace>.flock" file, which closes the
// window between two processes reading the same stale lock.
package workspace
