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
	"regexp"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var bucketNameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Bucket declares an S3 bucket.
type Bucket struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec BucketSpec `json:"spec"`
}

type BucketSpec struct {
	// BucketName is the globally unique name of the bucket.
	// Changing it replaces the bucket.
	BucketName string `json:"bucketName"`

	// ForceDestroy allows the bucket to be deleted together with its objects.
	// +optional
	ForceDestroy bool `json:"forceDestroy,omitempty"`

	// +optional
	Tags Tags `json:"tags,omitempty"`
}

func NewBucket(name string, spec BucketSpec) *Bucket {
	return &Bucket{
		TypeMeta:   newTypeMeta(BucketKind),
		ObjectMeta: newObjectMeta(name),
		Spec:       spec,
	}
}

func (r *Bucket) GetKind() Kind     { return BucketKind }
func (r *Bucket) ID() ID            { return ID{Kind: BucketKind, Name: r.Name} }
func (r *Bucket) References() []ID { return nil }

func (r *Bucket) Validate() error {
	if r.Spec.BucketName == "" {
		return invalid(r.ID(), "bucketName", "is required")
	}
	if !bucketNameRegexp.MatchString(r.Spec.BucketName) {
		return invalid(r.ID(), "bucketName", "%q is not a valid S3 bucket name", r.Spec.BucketName)
	}
	return r.Spec.Tags.Validate(r.ID())
}

// BucketVersioning declares the versioning state of a bucket.
type BucketVersioning struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec BucketVersioningSpec `json:"spec"`
}

type VersioningStatus string

const (
	VersioningEnabled   VersioningStatus = "Enabled"
	VersioningSuspended VersioningStatus = "Suspended"
)

type BucketVersioningSpec struct {
	BucketRef LocalRef         `json:"bucketRef"`
	Status    VersioningStatus `json:"status"`
}

func NewBucketVersioning(name string, spec BucketVersioningSpec) *BucketVersioning {
	return &BucketVersioning{
		TypeMeta:   newTypeMeta(BucketVersioningKind),
		ObjectMeta: newObjectMeta(name),
		Spec:       spec,
	}
}

func (r *BucketVersioning) GetKind() Kind { return BucketVersioningKind }
func (r *BucketVersioning) ID() ID        { return ID{Kind: BucketVersioningKind, Name: r.Name} }
func (r *BucketVersioning) References() []ID {
	return []ID{{Kind: BucketKind, Name: r.Spec.BucketRef.Name}}
}

func (r *BucketVersioning) Validate() error {
	if err := validateRef(r.ID(), "bucketRef", r.Spec.BucketRef); err != nil {
		return err
	}
	if !oneOf(string(r.Spec.Status), []string{string(VersioningEnabled), string(VersioningSuspended)}) {
		return invalid(r.ID(), "status", "%q must be Enabled or Suspended", r.Spec.Status)
	}
	return nil
}

// BucketACL declares the canned ACL of a bucket.
type BucketACL struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec BucketACLSpec `json:"spec"`
}

const ACLPrivate = "private"

// CannedACLs lists the canned ACLs accepted by S3.
var CannedACLs = []string{
	ACLPrivate,
	"public-read",
	"public-read-write",
	"aws-exec-read",
	"authenticated-read",
	"bucket-owner-read",
	"bucket-owner-full-control",
	"log-delivery-write",
}

type BucketACLSpec struct {
	BucketRef LocalRef `json:"bucketRef"`
	ACL       string   `json:"acl"`
}

func NewBucketACL(name string, spec BucketACLSpec) *BucketACL {
	return &BucketACL{
		TypeMeta:   newTypeMeta(BucketACLKind),
		ObjectMeta: newObjectMeta(name),
		Spec:       spec,
	}
}

func (r *BucketACL) GetKind() Kind { return BucketACLKind }
func (r *BucketACL) ID() ID        { return ID{Kind: BucketACLKind, Name: r.Name} }
func (r *BucketACL) References() []ID {
	return []ID{{Kind: BucketKind, Name: r.Spec.BucketRef.Name}}
}

func (r *BucketACL) Validate() error {
	if err := validateRef(r.ID(), "bucketRef", r.Spec.BucketRef); err != nil {
		return err
	}
	if !oneOf(r.Spec.ACL, CannedACLs) {
		return invalid(r.ID(), "acl", "%q is not a canned ACL", r.Spec.ACL)
	}
	return nil
}

// BucketEncryption declares the default server-side encryption rule of a bucket.
type BucketEncryption struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec BucketEncryptionSpec `json:"spec"`
}

const (
	SSEAlgorithmKMS     = "aws:kms"
	SSEAlgorithmKMSDSSE = "aws:kms:dsse"
	SSEAlgorithmAES256  = "AES256"
)

// SSEAlgorithms lists the accepted server-side encryption algorithms.
var SSEAlgorithms = []string{SSEAlgorithmKMS, SSEAlgorithmKMSDSSE, SSEAlgorithmAES256}

type BucketEncryptionSpec struct {
	BucketRef LocalRef `json:"bucketRef"`

	// KeyRef is required by the aws:kms algorithms and forbidden for AES256.
	// +optional
	KeyRef *LocalRef `json:"keyRef,omitempty"`

	SSEAlgorithm string `json:"sseAlgorithm"`

	// +optional
	BucketKeyEnabled bool `json:"bucketKeyEnabled,omitempty"`
}

// UsesKMS reports whether the algorithm needs a KMS key.
func (s BucketEncryptionSpec) UsesKMS() bool {
	return s.SSEAlgorithm == SSEAlgorithmKMS || s.SSEAlgorithm == SSEAlgorithmKMSDSSE
}

func NewBucketEncryption(name string, spec BucketEncryptionSpec) *BucketEncryption {
	return &BucketEncryption{
		TypeMeta:   newTypeMeta(BucketEncryptionKind),
		ObjectMeta: newObjectMeta(name),
		Spec:       spec,
	}
}

func (r *BucketEncryption) GetKind() Kind { return BucketEncryptionKind }
func (r *BucketEncryption) ID() ID        { return ID{Kind: BucketEncryptionKind, Name: r.Name} }
func (r *BucketEncryption) References() []ID {
	refs := []ID{{Kind: BucketKind, Name: r.Spec.BucketRef.Name}}
	if r.Spec.KeyRef != nil {
		refs = append(refs, ID{Kind: KeyKind, Name: r.Spec.KeyRef.Name})
	}
	return refs
}

func (r *BucketEncryption) Validate() error {
	if err := validateRef(r.ID(), "bucketRef", r.Spec.BucketRef); err != nil {
		return err
	}
	if !oneOf(r.Spec.SSEAlgorithm, SSEAlgorithms) {
		return invalid(r.ID(), "sseAlgorithm", "%q is not one of %v", r.Spec.SSEAlgorithm, SSEAlgorithms)
	}
	if r.Spec.UsesKMS() {
		if r.Spec.KeyRef == nil {
			return invalid(r.ID(), "keyRef", "is required by %s", r.Spec.SSEAlgorithm)
		}
		return validateRef(r.ID(), "keyRef", *r.Spec.KeyRef)
	}
	if r.Spec.KeyRef != nil {
		return invalid(r.ID(), "keyRef", "is not allowed with %s", r.Spec.SSEAlgorithm)
	}
	return nil
}

// BucketPublicAccessBlock declares the public access block flags of a bucket.
type BucketPublicAccessBlock struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec BucketPublicAccessBlockSpec `json:"spec"`
}

type BucketPublicAccessBlockSpec struct {
	BucketRef             LocalRef `json:"bucketRef"`
	BlockPublicAcls       bool     `json:"blockPublicAcls"`
	BlockPublicPolicy     bool     `json:"blockPublicPolicy"`
	IgnorePublicAcls      bool     `json:"ignorePublicAcls"`
	RestrictPublicBuckets bool     `json:"restrictPublicBuckets"`
}

// BlocksAll reports whether all four flags are set.
func (s BucketPublicAccessBlockSpec) BlocksAll() bool {
	return s.BlockPublicAcls && s.BlockPublicPolicy && s.IgnorePublicAcls && s.RestrictPublicBuckets
}

func NewBucketPublicAccessBlock(name string, spec BucketPublicAccessBlockSpec) *BucketPublicAccessBlock {
	return &BucketPublicAccessBlock{
		TypeMeta:   newTypeMeta(BucketPublicAccessBlockKind),
		ObjectMeta: newObjectMeta(name),
		Spec:       spec,
	}
}

func (r *BucketPublicAccessBlock) GetKind() Kind { return BucketPublicAccessBlockKind }
func (r *BucketPublicAccessBlock) ID() ID {
	return ID{Kind: BucketPublicAccessBlockKind, Name: r.Name}
}
func (r *BucketPublicAccessBlock) References() []ID {
	return []ID{{Kind: BucketKind, Name: r.Spec.BucketRef.Name}}
}

func (r *BucketPublicAccessBlock) Validate() error {
	return validateRef(r.ID(), "bucketRef", r.Spec.BucketRef)
}
