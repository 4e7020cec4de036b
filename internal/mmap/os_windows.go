//go:build windows

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func osMap(f *os.File, size int, writable bool) ([]byte, func([]byte) error, func([]byte) error, error) {
	protect := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		protect = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, protect, 0, 0, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	// The view holds a reference; the mapping handle can be closed now.
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, access, 0, 0, uintptr(size))
	if err != nil {
		return nil, nil, nil, err
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	unmap := func(b []byte) error {
		return windows.UnmapViewOfFile(addr)
	}
	fd := windows.Handle(f.Fd())
	flush := func(b []byte) error {
		if err := windows.FlushViewOfFile(addr, uintptr(size)); err != nil {
			return err
		}
		// FlushViewOfFile does not wait for the device; FlushFileBuffers does.
		return windows.FlushFileBuffers(fd)
	}
	return data, unmap, flush, nil
}

func osAdvise(data []byte, pattern AccessPattern) error {
	// Windows has no madvise equivalent; the OS page cache still handles
	// sequential access well.
	_ = data
	_ = pattern
	return nil
}
