/*
Copyright 2022 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/json"
)

const fileExt = ".json"

// FileStorage keeps each inventory as a JSON file inside a directory.
type FileStorage struct {
	Dir string
}

// DefaultFileStorageDir returns '$HOME/.kcstore/inventories'.
func DefaultFileStorageDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kcstore", "inventories"), nil
}

func (s *FileStorage) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("inventory name %q is invalid", name)
	}
	return filepath.Join(s.Dir, name+fileExt), nil
}

func (s *FileStorage) ApplyInventory(ctx context.Context, inv *Inventory) error {
	p, err := s.path(inv.Name)
	if err != nil {
		return err
	}

	data, err := json.Marshal(inv)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.Dir, "."+inv.Name+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (s *FileStorage) GetInventory(ctx context.Context, name string) (*Inventory, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, err
	}

	inv := NewInventory(name)
	if err := json.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("inventory file %s is invalid: %w", p, err)
	}
	return inv, nil
}

func (s *FileStorage) DeleteInventory(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s, error: %w", p, err)
	}
	return nil
}

func (s *FileStorage) ListInventories(ctx context.Context) ([]*Inventory, error) {
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Inventory{}, nil
		}
		return nil, err
	}

	result := make([]*Inventory, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), fileExt) || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		inv, err := s.GetInventory(ctx, strings.TrimSuffix(f.Name(), fileExt))
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
