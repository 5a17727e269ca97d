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

// Package pulumistack declares a resource set as a Pulumi program,
// for running the same store through the Pulumi engine.
package pulumistack

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/kms"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/stefanprodan/kcstore/pkg/resource"
)

// Stack holds the Pulumi resources registered for a resource set, indexed by 'Kind/name'.
type Stack struct {
	Buckets   map[string]*s3.BucketV2
	Keys      map[string]*kms.Key
	Resources map[string]pulumi.CustomResource
}

// New registers the resources of the set in dependency order.
func New(ctx *pulumi.Context, set *resource.Set, opts ...pulumi.ResourceOption) (*Stack, error) {
	levels, err := set.Levels()
	if err != nil {
		return nil, err
	}

	st := &Stack{
		Buckets:   map[string]*s3.BucketV2{},
		Keys:      map[string]*kms.Key{},
		Resources: map[string]pulumi.CustomResource{},
	}

	for _, level := range levels {
		for _, res := range level {
			deps, err := st.dependsOn(res)
			if err != nil {
				return nil, err
			}
			resOpts := append([]pulumi.ResourceOption{pulumi.DependsOn(deps)}, opts...)
			r, err := st.register(ctx, res, resOpts)
			if err != nil {
				return nil, fmt.Errorf("%s registration failed: %w", res.ID(), err)
			}
			st.Resources[res.ID().String()] = r
		}
	}
	return st, nil
}

// dependsOn returns the registered resources referenced by res.
func (st *Stack) dependsOn(res resource.Resource) ([]pulumi.Resource, error) {
	var deps []pulumi.Resource
	for _, ref := range res.References() {
		r, ok := st.Resources[ref.String()]
		if !ok {
			return nil, fmt.Errorf("%s references %s which is not registered: %w", res.ID(), ref, resource.ErrInvalid)
		}
		deps = append(deps, r)
	}
	return deps, nil
}

func (st *Stack) bucket(ref resource.LocalRef) (*s3.BucketV2, error) {
	b, ok := st.Buckets[resource.ID{Kind: resource.BucketKind, Name: ref.Name}.String()]
	if !ok {
		return nil, fmt.Errorf("Bucket/%s: %w", ref.Name, resource.ErrInvalid)
	}
	return b, nil
}

func (st *Stack) register(ctx *pulumi.Context, res resource.Resource, opts []pulumi.ResourceOption) (pulumi.CustomResource, error) {
	name := res.GetName()

	switch r := res.(type) {
	case *resource.Bucket:
		b, err := s3.NewBucketV2(ctx, name, &s3.BucketV2Args{
			Bucket:       pulumi.String(r.Spec.BucketName),
			ForceDestroy: pulumi.Bool(r.Spec.ForceDestroy),
			Tags:         pulumi.ToStringMap(r.Spec.Tags),
		}, opts...)
		if err != nil {
			return nil, err
		}
		st.Buckets[r.ID().String()] = b
		return b, nil

	case *resource.Key:
		args := &kms.KeyArgs{
			DeletionWindowInDays:  pulumi.Int(int(r.Spec.GetDeletionWindowInDays())),
			EnableKeyRotation:     pulumi.Bool(r.Spec.EnableKeyRotation),
			KeyUsage:              pulumi.String(r.Spec.GetKeyUsage()),
			CustomerMasterKeySpec: pulumi.String(r.Spec.GetKeySpec()),
			Tags:                  pulumi.ToStringMap(r.Spec.Tags),
		}
		if r.Spec.Description != "" {
			args.Description = pulumi.String(r.Spec.Description)
		}
		k, err := kms.NewKey(ctx, name, args, opts...)
		if err != nil {
			return nil, err
		}
		st.Keys[r.ID().String()] = k
		return k, nil

	case *resource.BucketVersioning:
		b, err := st.bucket(r.Spec.BucketRef)
		if err != nil {
			return nil, err
		}
		return s3.NewBucketVersioningV2(ctx, name, &s3.BucketVersioningV2Args{
			Bucket: b.ID(),
			VersioningConfiguration: &s3.BucketVersioningV2VersioningConfigurationArgs{
				Status: pulumi.String(string(r.Spec.Status)),
			},
		}, opts...)

	case *resource.BucketACL:
		b, err := st.bucket(r.Spec.BucketRef)
		if err != nil {
			return nil, err
		}
		return s3.NewBucketAclV2(ctx, name, &s3.BucketAclV2Args{
			Bucket: b.ID(),
			Acl:    pulumi.String(r.Spec.ACL),
		}, opts...)

	case *resource.BucketEncryption:
		b, err := st.bucket(r.Spec.BucketRef)
		if err != nil {
			return nil, err
		}
		byDefault := &s3.BucketServerSideEncryptionConfigurationV2RuleApplyServerSideEncryptionByDefaultArgs{
			SseAlgorithm: pulumi.String(r.Spec.SSEAlgorithm),
		}
		if r.Spec.KeyRef != nil {
			k, ok := st.Keys[resource.ID{Kind: resource.KeyKind, Name: r.Spec.KeyRef.Name}.String()]
			if !ok {
				return nil, fmt.Errorf("Key/%s: %w", r.Spec.KeyRef.Name, resource.ErrInvalid)
			}
			byDefault.KmsMasterKeyId = k.Arn
		}
		return s3.NewBucketServerSideEncryptionConfigurationV2(ctx, name, &s3.BucketServerSideEncryptionConfigurationV2Args{
			Bucket: b.ID(),
			Rules: s3.BucketServerSideEncryptionConfigurationV2RuleArray{
				&s3.BucketServerSideEncryptionConfigurationV2RuleArgs{
					ApplyServerSideEncryptionByDefault: byDefault,
					BucketKeyEnabled:                   pulumi.Bool(r.Spec.BucketKeyEnabled),
				},
			},
		}, opts...)

	case *resource.BucketPublicAccessBlock:
		b, err := st.bucket(r.Spec.BucketRef)
		if err != nil {
			return nil, err
		}
		return s3.NewBucketPublicAccessBlock(ctx, name, &s3.BucketPublicAccessBlockArgs{
			Bucket:                b.ID(),
			BlockPublicAcls:       pulumi.Bool(r.Spec.BlockPublicAcls),
			BlockPublicPolicy:     pulumi.Bool(r.Spec.BlockPublicPolicy),
			IgnorePublicAcls:      pulumi.Bool(r.Spec.IgnorePublicAcls),
			RestrictPublicBuckets: pulumi.Bool(r.Spec.RestrictPublicBuckets),
		}, opts...)

	default:
		return nil, fmt.Errorf("kind %s is not supported", res.GetKind())
	}
}
