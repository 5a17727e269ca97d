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
	"errors"
	"testing"

	"github.com/fluxcd/pkg/ssa"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newTestInventory(name string) *Inventory {
	inv := NewInventory(name)
	inv.Source = "stack/kubeconfig"
	inv.Revision = "v1"
	inv.LastAppliedTime = "2022-06-01T10:00:00Z"
	inv.Set(Entry{
		ID:         "Bucket/kubeconfigs",
		PhysicalID: "kc-bucket-1",
		ARN:        "arn:aws:s3:::kc-bucket-1",
		Attributes: map[string]string{AttrForceDestroy: "true"},
	})
	inv.Set(Entry{
		ID:           "BucketVersioning/kubeconfigs",
		PhysicalID:   "kc-bucket-1",
		Dependencies: []string{"Bucket/kubeconfigs"},
	})
	return inv
}

func testStorage(t *testing.T, storage Storage) {
	ctx := context.Background()

	t.Run("returns not found", func(t *testing.T) {
		g := NewWithT(t)

		_, err := storage.GetInventory(ctx, "missing")
		g.Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

		stale, err := GetInventoryStaleEntries(ctx, storage, NewInventory("missing"))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(stale).To(BeEmpty())
	})

	t.Run("applies and retrieves", func(t *testing.T) {
		g := NewWithT(t)

		inv := newTestInventory("kubeconfigs")
		g.Expect(storage.ApplyInventory(ctx, inv)).To(Succeed())

		result, err := storage.GetInventory(ctx, "kubeconfigs")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(result).To(Equal(inv))
	})

	t.Run("updates and finds stale entries", func(t *testing.T) {
		g := NewWithT(t)

		inv := newTestInventory("kubeconfigs")
		inv.Remove("BucketVersioning/kubeconfigs")

		stale, err := GetInventoryStaleEntries(ctx, storage, inv)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(stale).To(HaveLen(1))
		g.Expect(stale[0].ID).To(Equal("BucketVersioning/kubeconfigs"))

		inv.Revision = "v2"
		g.Expect(storage.ApplyInventory(ctx, inv)).To(Succeed())

		result, err := storage.GetInventory(ctx, "kubeconfigs")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(result.Revision).To(Equal("v2"))
		g.Expect(result.Entries).To(HaveLen(1))
	})

	t.Run("lists sorted by name", func(t *testing.T) {
		g := NewWithT(t)

		g.Expect(storage.ApplyInventory(ctx, newTestInventory("alpha"))).To(Succeed())

		list, err := storage.ListInventories(ctx)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(list).To(HaveLen(2))
		g.Expect(list[0].Name).To(Equal("alpha"))
		g.Expect(list[1].Name).To(Equal("kubeconfigs"))
	})

	t.Run("deletes", func(t *testing.T) {
		g := NewWithT(t)

		g.Expect(storage.DeleteInventory(ctx, "alpha")).To(Succeed())
		g.Expect(storage.DeleteInventory(ctx, "alpha")).To(Succeed())

		_, err := storage.GetInventory(ctx, "alpha")
		g.Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})
}

func TestFileStorage(t *testing.T) {
	testStorage(t, &FileStorage{Dir: t.TempDir()})
}

func TestFileStorageRejectsPaths(t *testing.T) {
	g := NewWithT(t)

	storage := &FileStorage{Dir: t.TempDir()}
	err := storage.ApplyInventory(context.Background(), NewInventory("../escape"))
	g.Expect(err).To(HaveOccurred())
}

func TestConfigMapStorage(t *testing.T) {
	kubeClient := fake.NewClientBuilder().Build()
	storage := &ConfigMapStorage{
		Client:    kubeClient,
		Owner:     ssa.Owner{Field: "kcstore", Group: "kcstore.dev"},
		Namespace: "kcstore-system",
	}

	g := NewWithT(t)
	g.Expect(storage.CreateNamespace(context.Background())).To(Succeed())
	g.Expect(storage.CreateNamespace(context.Background())).To(Succeed())

	testStorage(t, storage)

	cm := &corev1.ConfigMap{}
	err := kubeClient.Get(context.Background(), client.ObjectKey{Namespace: "kcstore-system", Name: "inv-kubeconfigs"}, cm)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cm.Labels).To(HaveKeyWithValue("app.kubernetes.io/component", "inventory"))
	g.Expect(cm.Labels).To(HaveKeyWithValue("app.kubernetes.io/created-by", "kcstore"))
	g.Expect(cm.Annotations).To(HaveKeyWithValue("kcstore.dev/revision", "v2"))

	t.Run("replaces the owner metadata on update", func(t *testing.T) {
		g := NewWithT(t)

		inv := newTestInventory("kubeconfigs")
		inv.Source = ""
		cm.Labels["app.kubernetes.io/created-by"] = "someone"
		g.Expect(kubeClient.Update(context.Background(), cm)).To(Succeed())

		g.Expect(storage.ApplyInventory(context.Background(), inv)).To(Succeed())

		updated := &corev1.ConfigMap{}
		g.Expect(kubeClient.Get(context.Background(), client.ObjectKeyFromObject(cm), updated)).To(Succeed())
		g.Expect(updated.Labels).To(HaveKeyWithValue("app.kubernetes.io/created-by", "kcstore"))
		g.Expect(updated.Annotations).NotTo(HaveKey("kcstore.dev/source"))
		g.Expect(updated.Annotations).To(HaveKeyWithValue("kcstore.dev/revision", "v1"))
		g.Expect(updated.Data).To(HaveKey("inventory"))
	})
}
