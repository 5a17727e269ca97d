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
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/stefanprodan/kcstore/pkg/resource"
)

func TestReadDefaults(t *testing.T) {
	g := NewWithT(t)

	cfg, err := Read(filepath.Join(t.TempDir(), "missing"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Kind).To(Equal(ConfigKind))
	g.Expect(cfg.Inventory.Storage).To(Equal(FileStorage))
	g.Expect(cfg.Apply.Concurrency).To(Equal(DefaultConcurrency))
	g.Expect(cfg.Apply.WaitTimeout.Duration).To(Equal(DefaultWaitTimeout))
	g.Expect(cfg.FieldManager.Name).To(Equal(FieldManagerName))
}

func TestWriteRead(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), ".kcstore", "config")

	cfg := NewConfig()
	cfg.AWS.Region = "eu-west-1"
	cfg.AWS.Endpoint = "http://localhost:4566"
	cfg.Bucket.Name = "kc-bucket-1"
	cfg.Bucket.Tags = resource.Tags{"env": "prod"}
	cfg.Inventory.Storage = ConfigMapStorage
	cfg.Apply.WaitTimeout.Duration = time.Minute
	g.Expect(cfg.Write(path)).To(Succeed())

	info, err := os.Stat(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0600)))

	read, err := Read(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(read).To(Equal(cfg))
}

func TestReadPartial(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "config")

	err := os.WriteFile(path, []byte(`apiVersion: kcstore.dev/v1alpha1
kind: Config
bucket:
  name: kc-bucket-1
`), 0600)
	g.Expect(err).NotTo(HaveOccurred())

	cfg, err := Read(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Bucket.Name).To(Equal("kc-bucket-1"))
	g.Expect(cfg.Inventory).To(Equal(defaultInventory()))
	g.Expect(cfg.Apply).To(Equal(defaultApply()))
}

func TestReadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "unknown storage",
			data:    "inventory:\n  storage: s3\n",
			wantErr: `inventory storage "s3" is not supported`,
		},
		{
			name:    "zero concurrency",
			data:    "apply:\n  concurrency: 0\n",
			wantErr: "concurrency must be at least 1",
		},
		{
			name:    "reserved tag",
			data:    "bucket:\n  tags:\n    aws:owner: me\n",
			wantErr: "reserved aws: prefix",
		},
		{
			name:    "other api version",
			data:    "apiVersion: other.dev/v1\nkind: Config\n",
			wantErr: "is not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			path := filepath.Join(t.TempDir(), "config")
			g.Expect(os.WriteFile(path, []byte(tt.data), 0600)).To(Succeed())

			_, err := Read(path)
			g.Expect(err).To(HaveOccurred())
			g.Expect(err.Error()).To(ContainSubstring(tt.wantErr))
		})
	}
}
