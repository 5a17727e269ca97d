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

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	. "github.com/onsi/gomega"

	"github.com/stefanprodan/kcstore/pkg/inventory"
)

func readInventory(t *testing.T, name string) *inventory.Inventory {
	t.Helper()
	storage := &inventory.FileStorage{Dir: filepath.Join(tmpDir, ".kcstore", "inventories")}
	inv, err := storage.GetInventory(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return inv
}

func TestApply(t *testing.T) {
	g := NewWithT(t)
	id := randStringRunes(8)
	bucket := "kc-" + id

	t.Run("creates the kubeconfig store", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf(
			"apply --bucket-name %s --tag env=test -i %s --source https://github.com/org/repo --revision v1.0.0 --wait",
			bucket, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("account 123456789012 in eu-west-1"))
		g.Expect(output).To(ContainSubstring("Bucket/kubeconfigs created"))
		g.Expect(output).To(ContainSubstring("Key/kubeconfigs created"))
		g.Expect(output).To(ContainSubstring("BucketEncryption/kubeconfigs created"))
		g.Expect(output).To(ContainSubstring("all resources are ready"))

		b := testCloud.S3.Buckets[bucket]
		g.Expect(b).NotTo(BeNil())
		g.Expect(b.Versioning).To(Equal(s3types.BucketVersioningStatusEnabled))
		g.Expect(b.Tags).To(HaveKeyWithValue("env", "test"))

		inv := readInventory(t, id)
		g.Expect(inv.Entries).To(HaveLen(6))
		g.Expect(inv.Source).To(Equal("https://github.com/org/repo"))
		g.Expect(inv.Revision).To(Equal("v1.0.0"))
		g.Expect(inv.LastAppliedTime).NotTo(BeEmpty())

		key, ok := inv.Get("Key/kubeconfigs")
		g.Expect(ok).To(BeTrue())
		rule := b.Encryption.Rules[0].ApplyServerSideEncryptionByDefault
		g.Expect(*rule.KMSMasterKeyID).To(Equal(key.ARN))
	})

	t.Run("second apply is a no-op", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("apply --bucket-name %s --tag env=test -i %s", bucket, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("Bucket/kubeconfigs unchanged"))
		g.Expect(output).To(ContainSubstring("Key/kubeconfigs unchanged"))
		g.Expect(output).NotTo(ContainSubstring("created"))
	})

	t.Run("converges drifted tags", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("apply --bucket-name %s --tag env=prod -i %s", bucket, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("Bucket/kubeconfigs configured"))
		g.Expect(output).To(ContainSubstring("Key/kubeconfigs configured"))
		g.Expect(testCloud.S3.Buckets[bucket].Tags).To(HaveKeyWithValue("env", "prod"))
	})

	t.Run("reverts out of band changes", func(t *testing.T) {
		testCloud.S3.Buckets[bucket].Versioning = s3types.BucketVersioningStatusSuspended

		output, err := executeCommand(fmt.Sprintf("apply --bucket-name %s --tag env=prod -i %s", bucket, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("BucketVersioning/kubeconfigs configured"))
		g.Expect(testCloud.S3.Buckets[bucket].Versioning).To(Equal(s3types.BucketVersioningStatusEnabled))
	})
}

func TestApplyPrune(t *testing.T) {
	g := NewWithT(t)
	id := randStringRunes(8)
	bucket := "kc-" + id

	dir, err := makeTestDir(id, testManifests(bucket, true))
	g.Expect(err).NotTo(HaveOccurred())

	_, err = executeCommand(fmt.Sprintf("apply -f %s -i %s", dir, id))
	g.Expect(err).NotTo(HaveOccurred())

	inv := readInventory(t, id)
	g.Expect(inv.Entries).To(HaveLen(4))
	key, ok := inv.Get("Key/store")
	g.Expect(ok).To(BeTrue())

	t.Run("keeps stale resources without prune", func(t *testing.T) {
		dir, err := makeTestDir(id, testManifests(bucket, false))
		g.Expect(err).NotTo(HaveOccurred())

		output, err := executeCommand(fmt.Sprintf("apply -f %s -i %s --prune=false", dir, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).NotTo(ContainSubstring("deleted"))
		g.Expect(readInventory(t, id).Entries).To(HaveLen(4))
		g.Expect(testCloud.KMS.Keys[key.PhysicalID].State).To(Equal(kmstypes.KeyStateEnabled))
	})

	t.Run("deletes stale resources in reverse order", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("apply -f %s -i %s", dir, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("BucketEncryption/store deleted"))
		g.Expect(output).To(ContainSubstring("Key/store deleted"))

		inv := readInventory(t, id)
		g.Expect(inv.Entries).To(HaveLen(2))
		_, ok := inv.Get("Key/store")
		g.Expect(ok).To(BeFalse())

		k := testCloud.KMS.Keys[key.PhysicalID]
		g.Expect(k.State).To(Equal(kmstypes.KeyStatePendingDeletion))
		g.Expect(k.PendingWindowInDays).To(BeEquivalentTo(7))
		g.Expect(testCloud.S3.Buckets[bucket].Encryption).To(BeNil())
	})

	t.Run("waits for stale resources to terminate", func(t *testing.T) {
		full, err := makeTestDir(id+"-full", testManifests(bucket, true))
		g.Expect(err).NotTo(HaveOccurred())

		_, err = executeCommand(fmt.Sprintf("apply -f %s -i %s", full, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(readInventory(t, id).Entries).To(HaveLen(4))

		output, err := executeCommand(fmt.Sprintf("apply -f %s -i %s --wait --wait-timeout 5s", dir, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("BucketEncryption/store deleted"))
		g.Expect(output).To(ContainSubstring("Key/store deleted"))
		g.Expect(output).To(ContainSubstring("all resources are ready"))

		g.Expect(readInventory(t, id).Entries).To(HaveLen(2))
		g.Expect(testCloud.S3.Buckets).To(HaveKey(bucket))
		g.Expect(testCloud.S3.Buckets[bucket].Encryption).To(BeNil())
	})
}

func TestApplyFailureRecordsProgress(t *testing.T) {
	g := NewWithT(t)
	id := randStringRunes(8)
	bucket := "kc-" + id

	testCloud.S3.Failures["PutBucketEncryption "+bucket] = fmt.Errorf("access denied")
	defer delete(testCloud.S3.Failures, "PutBucketEncryption "+bucket)

	_, err := executeCommand(fmt.Sprintf("apply --bucket-name %s -i %s", bucket, id))
	g.Expect(err).To(MatchError(ContainSubstring("access denied")))

	inv := readInventory(t, id)
	_, ok := inv.Get("Bucket/kubeconfigs")
	g.Expect(ok).To(BeTrue())
	key, ok := inv.Get("Key/kubeconfigs")
	g.Expect(ok).To(BeTrue())
	_, ok = inv.Get("BucketEncryption/kubeconfigs")
	g.Expect(ok).To(BeFalse())

	t.Run("resumes from the recorded state", func(t *testing.T) {
		delete(testCloud.S3.Failures, "PutBucketEncryption "+bucket)

		output, err := executeCommand(fmt.Sprintf("apply --bucket-name %s -i %s", bucket, id))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("Key/kubeconfigs unchanged"))
		g.Expect(output).To(ContainSubstring("BucketEncryption/kubeconfigs created"))

		resumed, _ := readInventory(t, id).Get("Key/kubeconfigs")
		g.Expect(resumed.PhysicalID).To(Equal(key.PhysicalID))
	})
}
