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

package resource

import (
	"errors"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
)

func TestMergeTags(t *testing.T) {
	g := NewWithT(t)

	base := Tags{"env": "prod", "Name": "base"}
	override := Tags{"Name": "Kubernetes kubeconfig"}

	merged := MergeTags(base, override)
	g.Expect(merged).To(Equal(Tags{"env": "prod", "Name": "Kubernetes kubeconfig"}))
	g.Expect(base["Name"]).To(Equal("base"))

	g.Expect(MergeTags(merged, override)).To(Equal(merged))
	g.Expect(MergeTags(base, override, Tags{"Name": "last"})["Name"]).To(Equal("last"))
	g.Expect(MergeTags(nil)).To(BeEmpty())
}

func TestParseTags(t *testing.T) {
	g := NewWithT(t)

	tags, err := ParseTags([]string{"env=prod", "team=a=b"})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tags).To(Equal(Tags{"env": "prod", "team": "a=b"}))
	g.Expect(tags.String()).To(Equal("env=prod,team=a=b"))

	_, err = ParseTags([]string{"=prod"})
	g.Expect(err).To(HaveOccurred())
}

func TestValidate(t *testing.T) {
	bucketRef := LocalRef{Name: "kubeconfigs"}
	keyRef := &LocalRef{Name: "kubeconfigs"}

	tests := []struct {
		name    string
		res     Resource
		wantErr string
	}{
		{
			name: "valid bucket",
			res:  NewBucket("kubeconfigs", BucketSpec{BucketName: "kc-bucket-1"}),
		},
		{
			name:    "empty bucket name",
			res:     NewBucket("kubeconfigs", BucketSpec{}),
			wantErr: "spec.bucketName is required",
		},
		{
			name:    "uppercase bucket name",
			res:     NewBucket("kubeconfigs", BucketSpec{BucketName: "KC"}),
			wantErr: "not a valid S3 bucket name",
		},
		{
			name:    "reserved tag prefix",
			res:     NewBucket("kubeconfigs", BucketSpec{BucketName: "kc-bucket-1", Tags: Tags{"aws:owner": "x"}}),
			wantErr: "reserved aws: prefix",
		},
		{
			name:    "unknown versioning status",
			res:     NewBucketVersioning("kubeconfigs", BucketVersioningSpec{BucketRef: bucketRef, Status: "On"}),
			wantErr: "must be Enabled or Suspended",
		},
		{
			name:    "unknown canned acl",
			res:     NewBucketACL("kubeconfigs", BucketACLSpec{BucketRef: bucketRef, ACL: "secret"}),
			wantErr: "not a canned ACL",
		},
		{
			name:    "missing bucket ref",
			res:     NewBucketACL("kubeconfigs", BucketACLSpec{ACL: ACLPrivate}),
			wantErr: "spec.bucketRef is required",
		},
		{
			name: "kms encryption",
			res: NewBucketEncryption("kubeconfigs", BucketEncryptionSpec{
				BucketRef: bucketRef, KeyRef: keyRef, SSEAlgorithm: SSEAlgorithmKMS,
			}),
		},
		{
			name: "sse algorithm outside the enumerated set",
			res: NewBucketEncryption("kubeconfigs", BucketEncryptionSpec{
				BucketRef: bucketRef, KeyRef: keyRef, SSEAlgorithm: "aws:kmx",
			}),
			wantErr: "spec.sseAlgorithm",
		},
		{
			name: "kms without key",
			res: NewBucketEncryption("kubeconfigs", BucketEncryptionSpec{
				BucketRef: bucketRef, SSEAlgorithm: SSEAlgorithmKMSDSSE,
			}),
			wantErr: "spec.keyRef is required",
		},
		{
			name: "aes256 with key",
			res: NewBucketEncryption("kubeconfigs", BucketEncryptionSpec{
				BucketRef: bucketRef, KeyRef: keyRef, SSEAlgorithm: SSEAlgorithmAES256,
			}),
			wantErr: "spec.keyRef is not allowed",
		},
		{
			name: "default deletion window",
			res:  NewKey("kubeconfigs", KeySpec{}),
		},
		{
			name:    "deletion window too short",
			res:     NewKey("kubeconfigs", KeySpec{DeletionWindowInDays: 6}),
			wantErr: "must be between 7 and 30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			err := tt.res.Validate()
			if tt.wantErr == "" {
				g.Expect(err).NotTo(HaveOccurred())
				return
			}
			g.Expect(err).To(HaveOccurred())
			g.Expect(errors.Is(err, ErrInvalid)).To(BeTrue())
			g.Expect(err.Error()).To(ContainSubstring(tt.wantErr))
		})
	}
}

func TestSetValidate(t *testing.T) {
	bucket := NewBucket("kubeconfigs", BucketSpec{BucketName: "kc-bucket-1"})
	key := NewKey("kubeconfigs", KeySpec{})
	encryption := NewBucketEncryption("kubeconfigs", BucketEncryptionSpec{
		BucketRef:    LocalRef{Name: "kubeconfigs"},
		KeyRef:       &LocalRef{Name: "kubeconfigs"},
		SSEAlgorithm: SSEAlgorithmKMS,
	})

	t.Run("resolves references", func(t *testing.T) {
		g := NewWithT(t)

		set, err := NewSet(encryption, bucket, key)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(set.Validate()).To(Succeed())

		levels, err := set.Levels()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(levels).To(HaveLen(2))
		g.Expect(levels[0][0].ID().String()).To(Equal("Bucket/kubeconfigs"))
		g.Expect(levels[0][1].ID().String()).To(Equal("Key/kubeconfigs"))
		g.Expect(levels[1][0].ID().String()).To(Equal("BucketEncryption/kubeconfigs"))
	})

	t.Run("rejects duplicate ids", func(t *testing.T) {
		g := NewWithT(t)

		_, err := NewSet(bucket, NewBucket("kubeconfigs", BucketSpec{BucketName: "other"}))
		g.Expect(err).To(HaveOccurred())
		g.Expect(err.Error()).To(ContainSubstring("declared more than once"))
	})

	t.Run("rejects dangling bucket ref", func(t *testing.T) {
		g := NewWithT(t)

		set, err := NewSet(key, NewBucketVersioning("kubeconfigs", BucketVersioningSpec{
			BucketRef: LocalRef{Name: "missing"},
			Status:    VersioningEnabled,
		}))
		g.Expect(err).NotTo(HaveOccurred())

		err = set.Validate()
		g.Expect(errors.Is(err, ErrInvalid)).To(BeTrue())
		g.Expect(err.Error()).To(ContainSubstring("Bucket/missing which is not declared"))
	})

	t.Run("rejects asymmetric keys for encryption", func(t *testing.T) {
		g := NewWithT(t)

		set, err := NewSet(bucket, NewKey("kubeconfigs", KeySpec{KeyUsage: "SIGN_VERIFY", KeySpec: "RSA_2048"}), encryption)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(set.Validate()).NotTo(Succeed())
	})
}

func TestReadObjects(t *testing.T) {
	g := NewWithT(t)

	manifest := `
apiVersion: kcstore.dev/v1alpha1
kind: Bucket
metadata:
  name: kubeconfigs
spec:
  bucketName: kc-bucket-1
  forceDestroy: true
  tags:
    env: prod
---
apiVersion: kcstore.dev/v1alpha1
kind: Key
metadata:
  name: kubeconfigs
spec:
  description: s3 kubeconfig encryption
  deletionWindowInDays: 7
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: ignored
`
	resources, err := ReadObjects(strings.NewReader(manifest))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(resources).To(HaveLen(2))

	bucket, ok := resources[0].(*Bucket)
	g.Expect(ok).To(BeTrue())
	g.Expect(bucket.Spec.BucketName).To(Equal("kc-bucket-1"))
	g.Expect(bucket.Spec.ForceDestroy).To(BeTrue())
	g.Expect(bucket.Spec.Tags).To(Equal(Tags{"env": "prod"}))

	key, ok := resources[1].(*Key)
	g.Expect(ok).To(BeTrue())
	g.Expect(key.Spec.GetDeletionWindowInDays()).To(BeEquivalentTo(7))

	yml, err := ObjectsToYAML(resources)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(yml).To(ContainSubstring("bucketName: kc-bucket-1"))
	g.Expect(yml).NotTo(ContainSubstring("creationTimestamp"))

	again, err := ReadObjects(strings.NewReader(yml))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(again).To(Equal(resources))
}

func TestReadObjectsUnknownKind(t *testing.T) {
	g := NewWithT(t)

	_, err := ReadObjects(strings.NewReader(`
apiVersion: kcstore.dev/v1alpha1
kind: Queue
metadata:
  name: jobs
`))
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring(`kind "Queue" is not supported`))
}
