// Package configutil loads json5 configuration files with optional
// machine-local overrides kept out of version control.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(name string) (string, string) {
	i := strings.LastIndexByte(name, '.')
	if i == -1 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

// readLayer parses one config file into out. A missing or empty file
// is not an error, it reports false instead.
func readLayer(path string, out any) (bool, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(contents) == 0 {
		return false, nil
	}
	return true, json5.Unmarshal(contents, out)
}

// ReadConfig reads `name` (extension included), then merges
// `<name>.local.<ext>` over it when present. Reading succeeds as long
// as at least one of the two layers exists, otherwise it returns
// os.ErrNotExist.
func ReadConfig[T any](name string) (T, error) {
	var out T

	dir := filepath.Dir(name)
	base, ext := splitExt(filepath.Base(name))

	found, err := readLayer(name, &out)
	if err != nil {
		return out, err
	}

	localPath := filepath.Join(dir, fmt.Sprintf("%s.local.%s", base, ext))
	var override T
	foundLocal, err := readLayer(localPath, &override)
	if err != nil {
		return out, err
	}
	if foundLocal {
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localPath)
	}

	if !found && !foundLocal {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively looks for the named config in the working directory
// and then each parent directory up to the filesystem root.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
