package localnotify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type state struct {
	Permission  Permission `yaml:"permission"`
	DeviceToken string     `yaml:"device_token,omitempty"`
}

func loadState(path string) (state, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state{Permission: PermissionUndetermined}, nil
	}
	if err != nil {
		return state{}, fmt.Errorf("read %s: %w", path, err)
	}
	var st state
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return state{}, fmt.Errorf("parse %s: %w", path, err)
	}
	switch st.Permission {
	case PermissionGranted, PermissionDenied:
	default:
		st.Permission = PermissionUndetermined
	}
	return st, nil
}

// saveState encodes st next to path and renames it into place, so a crash mid-write
// leaves the previous permission answer intact. Callers hold the gateway lock.
func saveState(path string, st state) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	next := path + ".next"
	f, err := os.OpenFile(next, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", next, err)
	}
	enc := yaml.NewEncoder(f)
	err = enc.Encode(st)
	if err == nil {
		err = enc.Close()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(next)
		return fmt.Errorf("write %s: %w", next, err)
	}

	if err := os.Rename(next, path); err != nil {
		_ = os.Remove(next)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	// Persist the rename itself; directories that cannot be opened or synced are skipped.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
