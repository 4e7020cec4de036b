package fileio

// Backend selects the IO implementation for a LogFile.
type Backend int

const (
	// BackendPlain uses a plain file handle.
	BackendPlain Backend = iota
	// BackendMmap uses a memory-mapped file.
	BackendMmap
)

// LogFile binds a path to one concrete IO implementation.
//
// The backend is chosen when the file is opened and never changes for the
// lifetime of the handle. Callers read, write and flush through the LogFile
// without knowing which mechanism is underneath.
type LogFile struct {
	path   string
	io     IO
	opened bool
}

// NewLogFile creates an unopened log file for path using the given IO.
func NewLogFile(path string, io IO) *LogFile {
	return &LogFile{path: path, io: io}
}

// Path returns the bound path.
func (f *LogFile) Path() string { return f.path }

// IsOpen reports whether the file has been opened and not yet closed.
func (f *LogFile) IsOpen() bool { return f.io != nil && f.opened }

// Open opens the file with the bound backend.
func (f *LogFile) Open(readOnly bool) error {
	if err := f.io.Open(f.path, readOnly); err != nil {
		return err
	}
	f.opened = true
	return nil
}

// Rename renames the file on disk and rebinds the path.
func (f *LogFile) Rename(newPath string) error {
	if err := f.io.Rename(f.path, newPath); err != nil {
		return err
	}
	f.path = newPath
	return nil
}

// Close closes the underlying handle.
func (f *LogFile) Close() error {
	if !f.opened {
		return nil
	}
	f.opened = false
	return f.io.Close()
}

// Read fills buf from the given offset.
func (f *LogFile) Read(offset int64, buf []byte) error {
	return f.io.ReadAt(offset, buf)
}

// Write writes buf at the given offset.
func (f *LogFile) Write(offset int64, buf []byte) error {
	return f.io.WriteAt(f.path, offset, buf)
}

// Flush writes the file data back to the device.
func (f *LogFile) Flush() error {
	return f.io.Flush()
}

// WritesAreDurable reports whether writes survive a crash without Flush.
func (f *LogFile) WritesAreDurable() bool {
	return f.io.WritesAreDurable()
}
