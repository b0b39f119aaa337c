package cookies

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var ErrLockTimeout = errors.New("timed out waiting for cookie lock")

// FileLock is an inter-process lock: a file holding the owner's PID.
type FileLock struct {
	Path     string
	Timeout  time.Duration
	StaleAge time.Duration
	Poll     time.Duration

	held bool
}

func NewFileLock(path string, timeout, staleAge time.Duration) *FileLock {
	return &FileLock{
		Path:     path,
		Timeout:  timeout,
		StaleAge: staleAge,
		Poll:     time.Second,
	}
}

// Acquire waits up to Timeout for the lock. Locks left by dead processes or
// older than StaleAge are broken.
func (l *FileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(l.Timeout)
	for {
		f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(l.Path)
				return fmt.Errorf("write lock %s: %w", l.Path, errors.Join(werr, cerr))
			}
			l.held = true
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock %s: %w", l.Path, err)
		}

		if reason := l.stale(); reason != "" {
			log.Warnf("removing stale lock %s: %s", l.Path, reason)
			if err := os.Remove(l.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove stale lock: %w", err)
			}
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w after %v (%s)", ErrLockTimeout, l.Timeout, l.Path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(l.Poll, remaining)):
		}
	}
}

// stale returns why the current lock file may be broken, or "".
func (l *FileLock) stale() string {
	fi, err := os.Stat(l.Path)
	if err != nil {
		return ""
	}
	if l.StaleAge > 0 && time.Since(fi.ModTime()) > l.StaleAge {
		return fmt.Sprintf("older than %v", l.StaleAge)
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return ""
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// being written right now, or garbage; the age check will catch garbage
		return ""
	}
	if !processAlive(pid) {
		return fmt.Sprintf("owner %d is not running", pid)
	}
	return ""
}

// Release removes the lock if this FileLock holds it.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return fmt.Errorf("lock %s was taken over", l.Path)
	}
	return os.Remove(l.Path)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
