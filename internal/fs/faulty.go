package fs

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Fault defines specific failure behavior for files matching a pattern.
type Fault struct {
	FailAfterBytes int64 // Fail writes after this many bytes written to this file. -1 to disable.
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

// FaultyFS is a FileSystem wrapper that can inject errors.
//
// Redo-log I/O failure compromises the durability guarantee, so the code
// under test is expected to surface these errors, not swallow them.
type FaultyFS struct {
	FS      FileSystem
	mu      sync.Mutex
	rules   map[string]Fault // filename pattern -> fault
	Default Fault

	Err error
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:      fsys,
		rules:   make(map[string]Fault),
		Default: Fault{FailAfterBytes: -1},
		Err:     fmt.Errorf("injected fault error"),
	}
}

// AddRule adds a fault injection rule for a specific file pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	fault := f.Default
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	if fault.Err == nil {
		fault.Err = f.Err
	}
	f.mu.Unlock()

	return &faultyFile{File: file, fs: f, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }
func (f *FaultyFS) Rename(oldpath, newpath string) error  { return f.FS.Rename(oldpath, newpath) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }

type faultyFile struct {
	File
	fs      *FaultyFS
	fault   Fault
	written int64
}

func (f *faultyFile) allow(n int) error {
	if f.fault.FailAfterBytes < 0 {
		return nil
	}
	if f.written+int64(n) > f.fault.FailAfterBytes {
		return f.fault.Err
	}
	return nil
}

func (f *faultyFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	err := f.allow(len(p))
	if err == nil {
		f.written += int64(len(p))
	}
	f.fs.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

func (f *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	err := f.allow(len(p))
	if err == nil {
		f.written += int64(len(p))
	}
	f.fs.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.File.WriteAt(p, off)
}

func (f *faultyFile) Sync() error {
	if f.fault.FailOnSync {
		return f.fault.Err
	}
	return f.File.Sync()
}

func (f *faultyFile) Close() error {
	if f.fault.FailOnClose {
		_ = f.File.Close()
		return f.fault.Err
	}
	return f.File.Close()
}
