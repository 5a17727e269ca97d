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

package aws

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/gomega"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/provider/aws/fake"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/resource"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

func newTestProvider() (*Provider, *fake.Cloud) {
	cloud := fake.NewCloud()
	return &Provider{
		S3:                cloud.S3,
		KMS:               cloud.KMS,
		STS:               cloud.STS,
		Region:            cloud.Region,
		BucketWaitTimeout: 10 * time.Second,
	}, cloud
}

func kubeconfigSet(t *testing.T, bucketName string) *resource.Set {
	t.Helper()
	set, err := stack.Kubeconfig(stack.Options{
		BucketName: bucketName,
		BaseTags:   resource.Tags{"env": "prod"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func actionOf(cs *resmgr.ChangeSet, subject string) string {
	e, ok := cs.Get(subject)
	if !ok {
		return ""
	}
	return e.Action
}

func TestApplyKubeconfigStack(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	cs, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cs.Entries).To(HaveLen(6))
	for _, e := range cs.Entries {
		g.Expect(e.Action).To(Equal(string(resmgr.CreatedAction)), e.Subject)
	}

	bucket, ok := cloud.S3.Buckets["kc-bucket-1"]
	g.Expect(ok).To(BeTrue())
	g.Expect(bucket.Region).To(Equal(fake.Region))
	g.Expect(bucket.Tags).To(Equal(map[string]string{"env": "prod", "Name": "Kubernetes kubeconfig"}))
	g.Expect(bucket.Versioning).To(Equal(s3types.BucketVersioningStatusEnabled))
	g.Expect(bucket.ACL).To(Equal(s3types.BucketCannedACLPrivate))

	keyEntry, ok := inv.Get("Key/kubeconfigs")
	g.Expect(ok).To(BeTrue())
	key := cloud.KMS.Keys[keyEntry.PhysicalID]
	g.Expect(key).NotTo(BeNil())
	g.Expect(key.ARN).To(Equal(keyEntry.ARN))
	g.Expect(key.Description).To(Equal("s3 kubeconfig encryption"))
	g.Expect(key.Tags).To(Equal(map[string]string{"env": "prod", "Name": "Kubeconfig Encryption"}))
	g.Expect(keyEntry.Attribute(inventory.AttrDeletionWindowInDays)).To(Equal("30"))

	rule := bucket.Encryption.Rules[0]
	g.Expect(rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm).To(Equal(s3types.ServerSideEncryptionAwsKms))
	g.Expect(aws.ToString(rule.ApplyServerSideEncryptionByDefault.KMSMasterKeyID)).To(Equal(key.ARN))

	pab := bucket.PublicAccessBlock
	g.Expect(aws.ToBool(pab.BlockPublicAcls)).To(BeTrue())
	g.Expect(aws.ToBool(pab.BlockPublicPolicy)).To(BeTrue())
	g.Expect(aws.ToBool(pab.IgnorePublicAcls)).To(BeTrue())
	g.Expect(aws.ToBool(pab.RestrictPublicBuckets)).To(BeTrue())

	g.Expect(inv.Entries).To(HaveLen(6))
	bucketEntry, _ := inv.Get("Bucket/kubeconfigs")
	g.Expect(bucketEntry.ARN).To(Equal("arn:aws:s3:::kc-bucket-1"))
	g.Expect(bucketEntry.Attribute(inventory.AttrForceDestroy)).To(Equal("true"))
	encEntry, _ := inv.Get("BucketEncryption/kubeconfigs")
	g.Expect(encEntry.Dependencies).To(ConsistOf("Bucket/kubeconfigs", "Key/kubeconfigs"))

	t.Run("second apply is a no-op", func(t *testing.T) {
		g := NewWithT(t)
		creates := cloud.S3.CallsOf("CreateBucket")

		cs, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(cs.HasChanges()).To(BeFalse(), cs.String())
		g.Expect(cloud.S3.CallsOf("CreateBucket")).To(Equal(creates))
		g.Expect(cloud.KMS.CallsOf("CreateKey")).To(Equal(1))
	})
}

func TestApplyDrift(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	bucket := cloud.S3.Buckets["kc-bucket-1"]
	bucket.Versioning = s3types.BucketVersioningStatusSuspended
	bucket.ACL = s3types.BucketCannedACLPublicRead
	bucket.PublicAccessBlock.RestrictPublicBuckets = aws.Bool(false)
	bucket.Tags["owner"] = "someone"

	keyEntry, _ := inv.Get("Key/kubeconfigs")
	key := cloud.KMS.Keys[keyEntry.PhysicalID]
	key.Tags["env"] = "dev"
	key.State = kmstypes.KeyStateDisabled

	cs, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(actionOf(cs, "Bucket/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))
	g.Expect(actionOf(cs, "Key/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))
	g.Expect(actionOf(cs, "BucketVersioning/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))
	g.Expect(actionOf(cs, "BucketACL/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))
	g.Expect(actionOf(cs, "BucketPublicAccessBlock/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))
	g.Expect(actionOf(cs, "BucketEncryption/kubeconfigs")).To(Equal(string(resmgr.UnchangedAction)))

	versioning, _ := cs.Get("BucketVersioning/kubeconfigs")
	g.Expect(versioning.Diff).To(ContainSubstring("Suspended"))

	g.Expect(bucket.Tags).NotTo(HaveKey("owner"))
	g.Expect(bucket.Versioning).To(Equal(s3types.BucketVersioningStatusEnabled))
	g.Expect(bucket.ACL).To(Equal(s3types.BucketCannedACLPrivate))
	g.Expect(aws.ToBool(bucket.PublicAccessBlock.RestrictPublicBuckets)).To(BeTrue())
	g.Expect(key.Tags["env"]).To(Equal("prod"))
	g.Expect(key.State).To(Equal(kmstypes.KeyStateEnabled))
}

func TestApplyReplacesRenamedBucket(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	for i := 0; i < 2; i++ {
		_, err = cloud.S3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String("kc-bucket-1"),
			Key:    aws.String("clusters/dev.yaml"),
		})
		g.Expect(err).NotTo(HaveOccurred())
	}

	cs, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-2"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(actionOf(cs, "Bucket/kubeconfigs")).To(Equal(string(resmgr.ReplacedAction)))
	g.Expect(actionOf(cs, "Key/kubeconfigs")).To(Equal(string(resmgr.UnchangedAction)))
	for _, kind := range []string{"BucketVersioning", "BucketACL", "BucketEncryption", "BucketPublicAccessBlock"} {
		g.Expect(actionOf(cs, kind+"/kubeconfigs")).To(Equal(string(resmgr.CreatedAction)), kind)
	}

	g.Expect(cloud.S3.Buckets).NotTo(HaveKey("kc-bucket-1"))
	g.Expect(cloud.S3.Buckets).To(HaveKey("kc-bucket-2"))
	g.Expect(cloud.S3.Buckets["kc-bucket-2"].Versioning).To(Equal(s3types.BucketVersioningStatusEnabled))

	for _, e := range inv.Entries {
		g.Expect(e.PhysicalID).NotTo(Equal("kc-bucket-1"), e.ID)
	}
}

func TestApplyRecreatesKeyPendingDeletion(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	oldKey, _ := inv.Get("Key/kubeconfigs")
	cloud.KMS.Keys[oldKey.PhysicalID].State = kmstypes.KeyStatePendingDeletion

	plan, err := rm.Diff(ctx, kubeconfigSet(t, "kc-bucket-1"), inv)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(actionOf(plan, "Key/kubeconfigs")).To(Equal(string(resmgr.CreatedAction)))
	g.Expect(actionOf(plan, "BucketEncryption/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))
	enc, _ := plan.Get("BucketEncryption/kubeconfigs")
	g.Expect(enc.Diff).To(ContainSubstring(resmgr.KnownAfterApply))

	cs, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(actionOf(cs, "Key/kubeconfigs")).To(Equal(string(resmgr.CreatedAction)))
	g.Expect(actionOf(cs, "BucketEncryption/kubeconfigs")).To(Equal(string(resmgr.ConfiguredAction)))

	newKey, _ := inv.Get("Key/kubeconfigs")
	g.Expect(newKey.PhysicalID).NotTo(Equal(oldKey.PhysicalID))

	rule := cloud.S3.Buckets["kc-bucket-1"].Encryption.Rules[0]
	g.Expect(aws.ToString(rule.ApplyServerSideEncryptionByDefault.KMSMasterKeyID)).To(Equal(newKey.ARN))
}

type inventoryResolver struct {
	inv *inventory.Inventory
}

func (r inventoryResolver) Resolve(id resource.ID) (inventory.Entry, error) {
	e, ok := r.inv.Get(id.String())
	if !ok {
		return inventory.Entry{}, fmt.Errorf("%s: %w", id, resmgr.ErrReferenceNotFound)
	}
	return e, nil
}

func TestApplyBucketDeletedOutOfBand(t *testing.T) {
	ctx := context.Background()

	t.Run("dependent put fails with reference not found", func(t *testing.T) {
		g := NewWithT(t)

		provider, cloud := newTestProvider()
		cloud.S3.Failures["PutBucketVersioning kc-bucket-1"] = &smithy.GenericAPIError{
			Code:    "NoSuchBucket",
			Message: "The specified bucket does not exist",
		}
		rm := resmgr.NewResourceManager(provider)
		inv := inventory.NewInventory(stack.Name)

		_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
		g.Expect(err).To(HaveOccurred())
		g.Expect(errors.Is(err, resmgr.ErrReferenceNotFound)).To(BeTrue(), err.Error())
		g.Expect(err.Error()).To(ContainSubstring("BucketVersioning/kubeconfigs"))

		_, ok := inv.Get("Bucket/kubeconfigs")
		g.Expect(ok).To(BeTrue())
	})

	t.Run("configuring a removed bucket fails with reference not found", func(t *testing.T) {
		g := NewWithT(t)

		provider, cloud := newTestProvider()
		rm := resmgr.NewResourceManager(provider)
		inv := inventory.NewInventory(stack.Name)
		set := kubeconfigSet(t, "kc-bucket-1")

		_, err := rm.ApplyAll(ctx, set, inv, resmgr.DefaultApplyOptions())
		g.Expect(err).NotTo(HaveOccurred())

		delete(cloud.S3.Buckets, "kc-bucket-1")

		for _, kind := range []resource.Kind{resource.BucketACLKind, resource.BucketEncryptionKind, resource.BucketPublicAccessBlockKind} {
			res, ok := set.Get(resource.ID{Kind: kind, Name: "kubeconfigs"})
			g.Expect(ok).To(BeTrue())

			_, err = provider.Create(ctx, res, inventoryResolver{inv: inv})
			g.Expect(errors.Is(err, resmgr.ErrReferenceNotFound)).To(BeTrue(), string(kind))
		}
	})
}

func TestWaitForConfigTermination(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	var configs []inventory.Entry
	for _, e := range inv.Entries {
		if e.ID != "Bucket/kubeconfigs" && e.ID != "Key/kubeconfigs" {
			configs = append(configs, e)
		}
	}
	g.Expect(configs).To(HaveLen(4))

	for _, e := range configs {
		if e.ID == "BucketEncryption/kubeconfigs" || e.ID == "BucketPublicAccessBlock/kubeconfigs" {
			exists, err := provider.Exists(ctx, e)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(exists).To(BeTrue(), e.ID)
		}
	}

	_, err = rm.DeleteAll(ctx, configs, inv, resmgr.DefaultDeleteOptions())
	g.Expect(err).NotTo(HaveOccurred())

	err = rm.WaitForTermination(ctx, configs, resmgr.WaitOptions{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
	})
	g.Expect(err).NotTo(HaveOccurred())

	bucket, ok := cloud.S3.Buckets["kc-bucket-1"]
	g.Expect(ok).To(BeTrue())
	g.Expect(bucket.Encryption).To(BeNil())
	g.Expect(bucket.PublicAccessBlock).To(BeNil())
	g.Expect(bucket.Versioning).To(Equal(s3types.BucketVersioningStatusSuspended))

	bucketEntry, _ := inv.Get("Bucket/kubeconfigs")
	exists, err := provider.Exists(ctx, bucketEntry)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(exists).To(BeTrue())

	t.Run("encryption reset to the S3 default counts as deleted", func(t *testing.T) {
		g := NewWithT(t)

		bucket.Encryption = &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
			}},
		}
		exists, err := provider.Exists(ctx, inventory.Entry{ID: "BucketEncryption/kubeconfigs", PhysicalID: "kc-bucket-1"})
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(exists).To(BeFalse())
	})
}

func TestApplyPartialFailure(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	cloud.S3.Failures["PutBucketEncryption"] = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}

	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("BucketEncryption/kubeconfigs"))
	g.Expect(err.Error()).To(ContainSubstring("AccessDenied"))

	_, ok := inv.Get("Bucket/kubeconfigs")
	g.Expect(ok).To(BeTrue())
	_, ok = inv.Get("Key/kubeconfigs")
	g.Expect(ok).To(BeTrue())
	_, ok = inv.Get("BucketEncryption/kubeconfigs")
	g.Expect(ok).To(BeFalse())

	delete(cloud.S3.Failures, "PutBucketEncryption")
	cs, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(actionOf(cs, "BucketEncryption/kubeconfigs")).To(Equal(string(resmgr.CreatedAction)))
	g.Expect(actionOf(cs, "Bucket/kubeconfigs")).To(Equal(string(resmgr.UnchangedAction)))
	g.Expect(cloud.KMS.CallsOf("CreateKey")).To(Equal(1))
}

func TestDeleteAll(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	rm := resmgr.NewResourceManager(provider)
	inv := inventory.NewInventory(stack.Name)

	_, err := rm.ApplyAll(ctx, kubeconfigSet(t, "kc-bucket-1"), inv, resmgr.DefaultApplyOptions())
	g.Expect(err).NotTo(HaveOccurred())

	_, err = cloud.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String("kc-bucket-1"),
		Key:    aws.String("clusters/prod.yaml"),
	})
	g.Expect(err).NotTo(HaveOccurred())
	_, err = cloud.S3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String("kc-bucket-1"),
		Key:    aws.String("clusters/prod.yaml"),
	})
	g.Expect(err).NotTo(HaveOccurred())

	keyEntry, _ := inv.Get("Key/kubeconfigs")

	cs, err := rm.DeleteAll(ctx, inv.Entries, inv, resmgr.DefaultDeleteOptions())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cs.Entries).To(HaveLen(6))
	g.Expect(inv.Entries).To(BeEmpty())

	g.Expect(cloud.S3.Buckets).To(BeEmpty())
	key := cloud.KMS.Keys[keyEntry.PhysicalID]
	g.Expect(key.State).To(Equal(kmstypes.KeyStatePendingDeletion))
	g.Expect(key.PendingWindowInDays).To(BeEquivalentTo(30))

	exists, err := provider.Exists(ctx, keyEntry)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(exists).To(BeFalse())
}

func TestDeleteMissingResources(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, _ := newTestProvider()

	err := provider.Delete(ctx, inventory.Entry{ID: "Bucket/kubeconfigs", PhysicalID: "kc-gone"})
	g.Expect(errors.Is(err, resmgr.ErrNotFound)).To(BeTrue())

	err = provider.Delete(ctx, inventory.Entry{ID: "BucketPublicAccessBlock/kubeconfigs", PhysicalID: "kc-gone"})
	g.Expect(errors.Is(err, resmgr.ErrNotFound)).To(BeTrue())

	err = provider.Delete(ctx, inventory.Entry{ID: "Key/kubeconfigs", PhysicalID: "00000000-gone"})
	g.Expect(errors.Is(err, resmgr.ErrNotFound)).To(BeTrue())
}

func TestCreateKeyWithWindow(t *testing.T) {
	g := NewWithT(t)
	ctx := context.Background()

	provider, cloud := newTestProvider()
	key := resource.NewKey("signing", resource.KeySpec{
		Description:          "test",
		DeletionWindowInDays: 7,
		EnableKeyRotation:    true,
	})

	entry, err := provider.Create(ctx, key, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cloud.KMS.Keys[entry.PhysicalID].RotationEnabled).To(BeTrue())

	entry.ID = key.ID().String()
	g.Expect(provider.Delete(ctx, entry)).To(Succeed())
	g.Expect(cloud.KMS.Keys[entry.PhysicalID].PendingWindowInDays).To(BeEquivalentTo(7))

	// a second schedule hits the pending deletion state
	g.Expect(errors.Is(provider.Delete(ctx, entry), resmgr.ErrNotFound)).To(BeTrue())
}

func TestCallerIdentity(t *testing.T) {
	g := NewWithT(t)

	provider, _ := newTestProvider()
	id, err := provider.CallerIdentity(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(id.Account).To(Equal(fake.Account))
	g.Expect(id.Region).To(Equal(fake.Region))
}
