package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as a JSON snapshot on every write. Writes go
// through a temp file + rename so a crash cannot leave a torn snapshot.
type File struct {
	mem  *Memory
	path string
	wmu  sync.Mutex
}

type fileSnapshot struct {
	Strings map[string]string `json:"strings,omitempty"`
	Bools   map[string]bool   `json:"bools,omitempty"`
	Ints    map[string]int64  `json:"ints,omitempty"`
}

// NewFile opens (or creates) a file-backed store at path
func NewFile(path string) (*File, error) {
	f := &File{mem: NewMemory(), path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	f.mem.restore(snap.Strings, snap.Bools, snap.Ints)
	return f, nil
}

func (f *File) flush() {
	f.wmu.Lock()
	defer f.wmu.Unlock()

	ss, bs, is := f.mem.snapshot()
	data, err := json.MarshalIndent(fileSnapshot{Strings: ss, Bools: bs, Ints: is}, "", "  ")
	if err != nil {
		return
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, f.path)
}

// Path returns the snapshot file path
func (f *File) Path() string { return filepath.Clean(f.path) }

func (f *File) GetString(key string) (string, bool) { return f.mem.GetString(key) }
func (f *File) GetBool(key string) (bool, bool)     { return f.mem.GetBool(key) }
func (f *File) GetInt64(key string) (int64, bool)   { return f.mem.GetInt64(key) }
func (f *File) Contains(key string) bool            { return f.mem.Contains(key) }

func (f *File) SetString(key, value string) {
	f.mem.SetString(key, value)
	f.flush()
}

func (f *File) SetBool(key string, value bool) {
	f.mem.SetBool(key, value)
	f.flush()
}

func (f *File) SetInt64(key string, value int64) {
	f.mem.SetInt64(key, value)
	f.flush()
}

func (f *File) Delete(key string) {
	f.mem.Delete(key)
	f.flush()
}
