package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// InstanceLock is an advisory flock on a pidfile ensuring only one daemon
// touches a given working copy and state directory at a time.
type InstanceLock struct {
	path string
	file *os.File
}

// AcquireInstanceLock takes the daemon-wide lock, writing our pid into the
// pidfile at path. Fails immediately (no waiting) if another live process
// holds it.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("another instance holds %s: %w", path, err)
	}

	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &InstanceLock{path: path, file: file}, nil
}

// Release drops the lock and removes the pidfile. Safe to call twice.
func (l *InstanceLock) Release() error {
	if l.file == nil {
		return nil
	}

	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	_ = os.Remove(l.path)

	if err != nil {
		return err
	}
	return closeErr
}
