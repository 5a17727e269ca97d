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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/stefanprodan/kcstore/pkg/resource"
)

const (
	ConfigKind       = "Config"
	ConfigAPIVersion = resource.APIVersion

	FieldManagerName  = "kcstore"
	FieldManagerGroup = "inventory.kcstore.dev"

	// FileStorage keeps the inventories as JSON files on disk.
	FileStorage = "file"
	// ConfigMapStorage keeps the inventories in a Kubernetes cluster.
	ConfigMapStorage = "configmap"

	DefaultNamespace   = "kcstore-system"
	DefaultConcurrency = 4
	DefaultWaitTimeout = 5 * time.Minute
)

type Config struct {
	metav1.TypeMeta `json:",inline"`

	// AWS holds the connection settings, empty fields fall back to the SDK defaults.
	AWS *AWS `json:"aws,omitempty"`

	// Bucket holds the default bucket name and base tags.
	Bucket *Bucket `json:"bucket,omitempty"`

	// Inventory selects where the apply records are kept.
	Inventory *Inventory `json:"inventory,omitempty"`

	// Apply holds the reconciler settings.
	Apply *Apply `json:"apply,omitempty"`

	// FieldManager holds the manager name and group used for the inventory ConfigMaps.
	FieldManager *FieldManager `json:"fieldManager,omitempty"`
}

type AWS struct {
	Region string `json:"region,omitempty"`

	Profile string `json:"profile,omitempty"`

	// Endpoint overrides the service endpoints, e.g. LocalStack.
	Endpoint string `json:"endpoint,omitempty"`

	UsePathStyle bool `json:"usePathStyle,omitempty"`
}

type Bucket struct {
	Name string `json:"name,omitempty"`

	Tags resource.Tags `json:"tags,omitempty"`
}

type Inventory struct {
	// Storage is 'file' or 'configmap'.
	Storage string `json:"storage"`

	// Dir is the directory of the file storage.
	Dir string `json:"dir,omitempty"`

	// Namespace is the namespace of the ConfigMap storage.
	Namespace string `json:"namespace,omitempty"`
}

type Apply struct {
	Concurrency int `json:"concurrency"`

	WaitTimeout metav1.Duration `json:"waitTimeout"`
}

type FieldManager struct {
	// Name sets the field manager of the inventory ConfigMaps.
	Name string `json:"name"`

	// Group sets the owner label key prefix.
	Group string `json:"group"`
}

// NewConfig returns a config with the default settings.
func NewConfig() *Config {
	return &Config{
		TypeMeta: metav1.TypeMeta{
			Kind:       ConfigKind,
			APIVersion: ConfigAPIVersion,
		},
		AWS:          &AWS{},
		Bucket:       &Bucket{},
		Inventory:    defaultInventory(),
		Apply:        defaultApply(),
		FieldManager: defaultFieldManager(),
	}
}

func defaultInventory() *Inventory {
	return &Inventory{
		Storage:   FileStorage,
		Namespace: DefaultNamespace,
	}
}

func defaultApply() *Apply {
	return &Apply{
		Concurrency: DefaultConcurrency,
		WaitTimeout: metav1.Duration{Duration: DefaultWaitTimeout},
	}
}

func defaultFieldManager() *FieldManager {
	return &FieldManager{
		Name:  FieldManagerName,
		Group: FieldManagerGroup,
	}
}

// DefaultConfigPath returns '$HOME/.kcstore/config'
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".kcstore/config"), nil
}

// Read loads the config from the specified path,
// if the config file is not found, a default is returned.
func Read(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("$HOME dir can't be determined, error: %w", err)
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return NewConfig(), nil
	}

	cfgData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(cfgData, cfg); err != nil {
		return nil, err
	}

	if cfg.APIVersion != "" && cfg.APIVersion != ConfigAPIVersion {
		return nil, fmt.Errorf("config apiVersion %q is not supported, expected %s", cfg.APIVersion, ConfigAPIVersion)
	}

	if cfg.AWS == nil {
		cfg.AWS = &AWS{}
	}

	if cfg.Bucket == nil {
		cfg.Bucket = &Bucket{}
	}

	if cfg.Inventory == nil {
		cfg.Inventory = defaultInventory()
	}

	if cfg.Apply == nil {
		cfg.Apply = defaultApply()
	}

	if cfg.FieldManager == nil {
		cfg.FieldManager = defaultFieldManager()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings that have no usable zero value.
func (c *Config) Validate() error {
	switch c.Inventory.Storage {
	case FileStorage, ConfigMapStorage:
	default:
		return fmt.Errorf("inventory storage %q is not supported, must be %s or %s",
			c.Inventory.Storage, FileStorage, ConfigMapStorage)
	}

	if c.Inventory.Storage == ConfigMapStorage && c.Inventory.Namespace == "" {
		return fmt.Errorf("the inventory namespace can't be empty")
	}

	if c.Apply.Concurrency < 1 {
		return fmt.Errorf("the apply concurrency must be at least 1")
	}

	if c.FieldManager.Name == "" {
		return fmt.Errorf("the field manager name can't be empty")
	}

	if c.FieldManager.Group == "" {
		return fmt.Errorf("the field manager group can't be empty")
	}

	if c.Bucket.Tags != nil {
		if err := c.Bucket.Tags.Validate(resource.ID{Kind: resource.BucketKind, Name: "config"}); err != nil {
			return err
		}
	}

	return nil
}

// Write saves the config at the given path, if no path is specified
// it will create or override '$HOME/.kcstore/config'.
func (c *Config) Write(configPath string) error {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	if err := os.MkdirAll(filepath.Dir(configPath), os.FileMode(0755)); err != nil {
		return err
	}

	cfgData, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, cfgData, os.FileMode(0600)); err != nil {
		return err
	}

	return nil
}
