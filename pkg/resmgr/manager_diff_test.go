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

package resmgr

import (
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/stefanprodan/kcstore/pkg/inventory"
)

func TestDiff(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider := newFakeProvider()
	manager := NewResourceManager(provider)
	inv := inventory.NewInventory("kubeconfigs")

	set, err := newTestSet("kc-bucket-1")
	g.Expect(err).NotTo(HaveOccurred())

	t.Run("plans dependents of absent resources without observing them", func(t *testing.T) {
		g := NewWithT(t)

		cs, err := manager.Diff(ctx, set, inv)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(diffStrings(applyOrder, subjects(cs))).To(BeEmpty())
		for _, e := range cs.Entries {
			g.Expect(e.Action).To(Equal(string(CreatedAction)))
		}
		g.Expect(provider.callsOf("observe")).To(ConsistOf("Bucket/kubeconfigs", "Key/kubeconfigs"))
		g.Expect(provider.callsOf("create")).To(BeEmpty())
	})

	t.Run("reports converged resources as unchanged", func(t *testing.T) {
		g := NewWithT(t)

		_, err := manager.ApplyAll(ctx, set, inv, DefaultApplyOptions())
		g.Expect(err).NotTo(HaveOccurred())

		cs, err := manager.Diff(ctx, set, inv)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(cs.HasChanges()).To(BeFalse())
	})

	t.Run("observes dependents of a recreated key", func(t *testing.T) {
		g := NewWithT(t)

		provider.mu.Lock()
		delete(provider.live, "Key/kubeconfigs")
		provider.calls = nil
		provider.mu.Unlock()

		cs, err := manager.Diff(ctx, set, inv)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(actions(cs)["Key/kubeconfigs"]).To(Equal(string(CreatedAction)))
		g.Expect(actions(cs)["BucketEncryption/kubeconfigs"]).To(Equal(string(UnchangedAction)))
		g.Expect(provider.callsOf("observe")).To(ContainElement("BucketEncryption/kubeconfigs"))

		applied, err := manager.ApplyAll(ctx, set, inv.DeepCopy(), DefaultApplyOptions())
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(actions(applied)).To(Equal(actions(cs)))
	})

	t.Run("reports stale inventory entries as deleted", func(t *testing.T) {
		g := NewWithT(t)

		stale := inv.DeepCopy()
		stale.Set(inventory.Entry{ID: "BucketACL/legacy", PhysicalID: "kc-legacy"})

		cs, err := manager.Diff(ctx, set, stale)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(actions(cs)["BucketACL/legacy"]).To(Equal(string(DeletedAction)))
		g.Expect(cs.Entries[len(cs.Entries)-1].String()).To(Equal("BucketACL/legacy deleted"))
	})
}
