// Package fs abstracts the file system operations used by the redo log.
//
// Production code uses Default (the local file system). Tests swap in
// FaultyFS to exercise the I/O failure paths that a real disk only produces
// when it is about to ruin your week.
package fs
