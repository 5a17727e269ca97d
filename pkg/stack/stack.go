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

// Package stack holds the desired-state declaration of the kubeconfig store.
package stack

import (
	"fmt"

	"github.com/stefanprodan/kcstore/pkg/resource"
)

const (
	// Name is the logical name shared by all the records of the declaration.
	Name = "kubeconfigs"

	BucketNameTag  = "Kubernetes kubeconfig"
	KeyDescription = "s3 kubeconfig encryption"
	KeyNameTag     = "Kubeconfig Encryption"
)

// Options are the external inputs of the declaration.
type Options struct {
	// BucketName is the physical name of the S3 bucket.
	BucketName string

	// BaseTags are merged into the tags of every taggable resource.
	BaseTags resource.Tags
}

// Kubeconfig returns the validated declaration of the kubeconfig bucket,
// its configuration and the KMS key that encrypts it.
func Kubeconfig(opts Options) (*resource.Set, error) {
	if opts.BucketName == "" {
		return nil, fmt.Errorf("bucket name is required: %w", resource.ErrInvalid)
	}

	bucketRef := resource.LocalRef{Name: Name}

	set, err := resource.NewSet(
		resource.NewBucket(Name, resource.BucketSpec{
			BucketName:   opts.BucketName,
			ForceDestroy: true,
			Tags:         resource.MergeTags(opts.BaseTags, resource.Tags{resource.NameTag: BucketNameTag}),
		}),
		resource.NewBucketVersioning(Name, resource.BucketVersioningSpec{
			BucketRef: bucketRef,
			Status:    resource.VersioningEnabled,
		}),
		resource.NewBucketACL(Name, resource.BucketACLSpec{
			BucketRef: bucketRef,
			ACL:       resource.ACLPrivate,
		}),
		resource.NewKey(Name, resource.KeySpec{
			Description: KeyDescription,
			Tags:        resource.MergeTags(opts.BaseTags, resource.Tags{resource.NameTag: KeyNameTag}),
		}),
		resource.NewBucketEncryption(Name, resource.BucketEncryptionSpec{
			BucketRef:    bucketRef,
			KeyRef:       &resource.LocalRef{Name: Name},
			SSEAlgorithm: resource.SSEAlgorithmKMS,
		}),
		resource.NewBucketPublicAccessBlock(Name, resource.BucketPublicAccessBlockSpec{
			BucketRef:             bucketRef,
			BlockPublicAcls:       true,
			BlockPublicPolicy:     true,
			IgnorePublicAcls:      true,
			RestrictPublicBuckets: true,
		}),
	)
	if err != nil {
		return nil, err
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}
