package service

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LockPath is where running instances record their PIDs.
func LockPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, Name, "lock"), nil
}

// WriteLock records pid in the lock file, one PID per line.
func WriteLock(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// RemoveLock drops pid from the lock file and deletes the file once empty.
func RemoveLock(path string, pid int) error {
	pids, err := ReadLock(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, p := range pids {
		if p != pid {
			fmt.Fprintf(&buf, "%d\n", p)
		}
	}
	if buf.Len() == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadLock returns the recorded PIDs. A missing file yields none.
func ReadLock(path string) ([]int, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pids []int
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, sc.Err()
}
