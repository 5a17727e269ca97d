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

// Package aws reconciles the kubeconfig store resources with the AWS S3 and KMS APIs.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/logger"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// defaultRegion is the only region where CreateBucket rejects a location constraint.
const defaultRegion = "us-east-1"

// Provider implements resmgr.Provider for the S3 and KMS resource kinds.
type Provider struct {
	S3     S3API
	KMS    KMSAPI
	STS    STSAPI
	Region string

	// BucketWaitTimeout bounds the wait for a new bucket to become visible.
	BucketWaitTimeout time.Duration
}

// NewProvider returns a provider for the given clients.
func NewProvider(c *Clients) *Provider {
	return &Provider{
		S3:                c.S3,
		KMS:               c.KMS,
		STS:               c.STS,
		Region:            c.Region,
		BucketWaitTimeout: 2 * time.Minute,
	}
}

// Identity describes the AWS account the provider operates on.
type Identity struct {
	Account string
	ARN     string
	Region  string
}

// CallerIdentity returns the account and principal of the configured credentials.
func (p *Provider) CallerIdentity(ctx context.Context) (*Identity, error) {
	out, err := p.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("AWS STS get caller identity failed: %w", err)
	}
	return &Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		Region:  p.Region,
	}, nil
}

func (p *Provider) Observe(ctx context.Context, res resource.Resource, refs resmgr.Resolver) (*resmgr.Observation, error) {
	switch r := res.(type) {
	case *resource.Bucket:
		return p.observeBucket(ctx, r, refs)
	case *resource.BucketVersioning:
		return p.observeVersioning(ctx, r, refs)
	case *resource.BucketACL:
		return p.observeACL(ctx, r, refs)
	case *resource.Key:
		return p.observeKey(ctx, r, refs)
	case *resource.BucketEncryption:
		return p.observeEncryption(ctx, r, refs)
	case *resource.BucketPublicAccessBlock:
		return p.observePublicAccessBlock(ctx, r, refs)
	default:
		return nil, fmt.Errorf("kind %s is not supported", res.GetKind())
	}
}

func (p *Provider) Create(ctx context.Context, res resource.Resource, refs resmgr.Resolver) (inventory.Entry, error) {
	switch r := res.(type) {
	case *resource.Bucket:
		return p.createBucket(ctx, r)
	case *resource.Key:
		return p.createKey(ctx, r)
	default:
		return p.putBucketConfig(ctx, res, refs)
	}
}

func (p *Provider) Update(ctx context.Context, res resource.Resource, live inventory.Entry, refs resmgr.Resolver) (inventory.Entry, error) {
	switch r := res.(type) {
	case *resource.Bucket:
		return p.updateBucket(ctx, r)
	case *resource.Key:
		return p.updateKey(ctx, r, live)
	default:
		return p.putBucketConfig(ctx, res, refs)
	}
}

func (p *Provider) Delete(ctx context.Context, entry inventory.Entry) error {
	id, err := entry.ResourceID()
	if err != nil {
		return err
	}

	switch id.Kind {
	case resource.BucketKind:
		return p.deleteBucket(ctx, entry)
	case resource.BucketVersioningKind:
		return p.deleteVersioning(ctx, entry)
	case resource.BucketACLKind:
		return p.deleteACL(ctx, entry)
	case resource.KeyKind:
		return p.deleteKey(ctx, entry)
	case resource.BucketEncryptionKind:
		return p.deleteEncryption(ctx, entry)
	case resource.BucketPublicAccessBlockKind:
		return p.deletePublicAccessBlock(ctx, entry)
	default:
		return fmt.Errorf("kind %s is not supported", id.Kind)
	}
}

func (p *Provider) Ready(ctx context.Context, entry inventory.Entry) (bool, error) {
	id, err := entry.ResourceID()
	if err != nil {
		return false, err
	}

	switch id.Kind {
	case resource.BucketKind:
		return p.bucketExists(ctx, entry.PhysicalID)
	case resource.KeyKind:
		state, err := p.keyState(ctx, entry.PhysicalID)
		if err != nil {
			return false, err
		}
		return state == keyStateEnabled, nil
	default:
		return true, nil
	}
}

func (p *Provider) Exists(ctx context.Context, entry inventory.Entry) (bool, error) {
	id, err := entry.ResourceID()
	if err != nil {
		return false, err
	}

	switch id.Kind {
	case resource.KeyKind:
		state, err := p.keyState(ctx, entry.PhysicalID)
		if err != nil {
			return false, err
		}
		return state != keyStateAbsent, nil
	case resource.BucketKind:
		return p.bucketExists(ctx, entry.PhysicalID)
	default:
		return p.configExists(ctx, id.Kind, entry.PhysicalID)
	}
}

// diff compares the desired and live states, treating nil and empty maps as equal.
func diff(desired, live interface{}) (bool, string) {
	return resmgr.HasDrifted(desired, live, cmpopts.EquateEmpty())
}

func logCall(ctx context.Context, call, target string) {
	logger.Ctx(ctx).Debug().Str("call", call).Str("target", target).Msg("aws api call")
}
