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
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// Bucket configurations are singletons attached to a bucket, S3 reports a
// default for most of them. A configuration is observed as absent until it
// has been recorded in the inventory for the current bucket, and creating it
// is the same idempotent put as updating it.

const (
	granteeAllUsers           = "http://acs.amazonaws.com/groups/global/AllUsers"
	granteeAuthenticatedUsers = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
	granteeLogDelivery        = "http://acs.amazonaws.com/groups/s3/LogDelivery"
	customACL                 = "custom"
)

func bucketRef(res resource.Resource) (resource.ID, error) {
	for _, ref := range res.References() {
		if ref.Kind == resource.BucketKind {
			return ref, nil
		}
	}
	return resource.ID{}, fmt.Errorf("%s has no bucket reference", res.ID())
}

// resolveBucket returns the physical name of the referenced bucket.
func resolveBucket(res resource.Resource, refs resmgr.Resolver) (string, error) {
	ref, err := bucketRef(res)
	if err != nil {
		return "", err
	}
	entry, err := refs.Resolve(ref)
	if err != nil {
		return "", err
	}
	return entry.PhysicalID, nil
}

// recorded reports whether the configuration was applied to the given bucket.
func recorded(res resource.Resource, refs resmgr.Resolver, bucket string) bool {
	entry, err := refs.Resolve(res.ID())
	return err == nil && entry.PhysicalID == bucket
}

func configEntry(bucket string) inventory.Entry {
	return inventory.Entry{
		PhysicalID: bucket,
		ARN:        bucketARN(bucket),
		Attributes: map[string]string{inventory.AttrBucketName: bucket},
	}
}

func observed(bucket string, desired, live interface{}) *resmgr.Observation {
	obs := &resmgr.Observation{Status: resmgr.StatusConverged, Entry: configEntry(bucket)}
	if drift, d := diff(desired, live); drift {
		obs.Status = resmgr.StatusDiverged
		obs.Diff = d
	}
	return obs
}

func absent() *resmgr.Observation {
	return &resmgr.Observation{Status: resmgr.StatusAbsent}
}

// observeConfig resolves the bucket and checks the configuration was recorded for it.
// It returns an empty bucket name when the configuration is absent.
func (p *Provider) observeConfig(ctx context.Context, res resource.Resource, refs resmgr.Resolver) (string, error) {
	bucket, err := resolveBucket(res, refs)
	if err != nil {
		return "", err
	}
	if !recorded(res, refs, bucket) {
		return "", nil
	}
	exists, err := p.bucketExists(ctx, bucket)
	if err != nil || !exists {
		return "", err
	}
	return bucket, nil
}

// configExists reports whether the configuration is still attached to the bucket.
// Versioning and ACL can only be reset, they are gone once deleted.
// S3 falls back to SSE-S3 when the encryption configuration is removed.
func (p *Provider) configExists(ctx context.Context, kind resource.Kind, bucket string) (bool, error) {
	switch kind {
	case resource.BucketEncryptionKind:
		logCall(ctx, "s3:GetBucketEncryption", bucket)
		out, err := p.S3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(bucket)})
		if err != nil {
			if isBucketNotFound(err) || hasCode(err, codeEncryptionNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("AWS S3 get bucket encryption %s failed: %w", bucket, err)
		}
		return !isDefaultEncryption(out.ServerSideEncryptionConfiguration), nil
	case resource.BucketPublicAccessBlockKind:
		logCall(ctx, "s3:GetPublicAccessBlock", bucket)
		_, err := p.S3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: aws.String(bucket)})
		if err != nil {
			if isBucketNotFound(err) || hasCode(err, codeNoSuchPublicAccessBlock) {
				return false, nil
			}
			return false, fmt.Errorf("AWS S3 get public access block %s failed: %w", bucket, err)
		}
		return true, nil
	case resource.BucketVersioningKind, resource.BucketACLKind:
		return false, nil
	default:
		return false, fmt.Errorf("kind %s is not supported", kind)
	}
}

func isDefaultEncryption(cfg *s3types.ServerSideEncryptionConfiguration) bool {
	if cfg == nil || len(cfg.Rules) == 0 {
		return true
	}
	def := cfg.Rules[0].ApplyServerSideEncryptionByDefault
	return def == nil || (def.SSEAlgorithm == s3types.ServerSideEncryptionAes256 && aws.ToString(def.KMSMasterKeyID) == "")
}

func (p *Provider) putBucketConfig(ctx context.Context, res resource.Resource, refs resmgr.Resolver) (inventory.Entry, error) {
	bucket, err := resolveBucket(res, refs)
	if err != nil {
		return inventory.Entry{}, err
	}

	switch r := res.(type) {
	case *resource.BucketVersioning:
		err = p.putVersioning(ctx, bucket, r.Spec.Status)
	case *resource.BucketACL:
		err = p.putACL(ctx, bucket, r.Spec.ACL)
	case *resource.BucketEncryption:
		err = p.putEncryption(ctx, bucket, r, refs)
	case *resource.BucketPublicAccessBlock:
		err = p.putPublicAccessBlock(ctx, bucket, r.Spec)
	default:
		err = fmt.Errorf("kind %s is not supported", res.GetKind())
	}
	if err != nil {
		if isBucketNotFound(err) {
			return inventory.Entry{}, fmt.Errorf("bucket %s: %w", bucket, resmgr.ErrReferenceNotFound)
		}
		return inventory.Entry{}, err
	}
	return configEntry(bucket), nil
}

func (p *Provider) observeVersioning(ctx context.Context, r *resource.BucketVersioning, refs resmgr.Resolver) (*resmgr.Observation, error) {
	bucket, err := p.observeConfig(ctx, r, refs)
	if err != nil || bucket == "" {
		return absent(), err
	}

	logCall(ctx, "s3:GetBucketVersioning", bucket)
	out, err := p.S3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isBucketNotFound(err) {
			return absent(), nil
		}
		return nil, fmt.Errorf("AWS S3 get bucket versioning %s failed: %w", bucket, err)
	}
	if out.Status == "" {
		return absent(), nil
	}
	return observed(bucket, string(r.Spec.Status), string(out.Status)), nil
}

func (p *Provider) putVersioning(ctx context.Context, bucket string, status resource.VersioningStatus) error {
	logCall(ctx, "s3:PutBucketVersioning", bucket)
	_, err := p.S3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: aws.String(bucket),
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: s3types.BucketVersioningStatus(status),
		},
	})
	if err != nil {
		return fmt.Errorf("AWS S3 put bucket versioning %s failed: %w", bucket, err)
	}
	return nil
}

// deleteVersioning suspends versioning, S3 can't turn it off once enabled.
func (p *Provider) deleteVersioning(ctx context.Context, entry inventory.Entry) error {
	err := p.putVersioning(ctx, entry.PhysicalID, resource.VersioningSuspended)
	if isBucketNotFound(err) {
		return resmgr.ErrNotFound
	}
	return err
}

func (p *Provider) observeACL(ctx context.Context, r *resource.BucketACL, refs resmgr.Resolver) (*resmgr.Observation, error) {
	bucket, err := p.observeConfig(ctx, r, refs)
	if err != nil || bucket == "" {
		return absent(), err
	}

	live, err := p.cannedACL(ctx, bucket)
	if err != nil {
		if isBucketNotFound(err) {
			return absent(), nil
		}
		return nil, err
	}
	return observed(bucket, r.Spec.ACL, live), nil
}

// cannedACL derives the canned ACL from the bucket grants. Buckets with
// ACLs disabled by the object ownership setting are private.
func (p *Provider) cannedACL(ctx context.Context, bucket string) (string, error) {
	logCall(ctx, "s3:GetBucketAcl", bucket)
	out, err := p.S3.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: aws.String(bucket)})
	if err != nil {
		if hasCode(err, codeAccessControlListNotSupported) {
			return resource.ACLPrivate, nil
		}
		return "", fmt.Errorf("AWS S3 get bucket acl %s failed: %w", bucket, err)
	}

	ownerID := ""
	if out.Owner != nil {
		ownerID = aws.ToString(out.Owner.ID)
	}

	groups := map[string]map[s3types.Permission]bool{}
	ownerFull := false
	for _, g := range out.Grants {
		if g.Grantee == nil {
			continue
		}
		switch {
		case g.Grantee.URI != nil:
			uri := aws.ToString(g.Grantee.URI)
			if groups[uri] == nil {
				groups[uri] = map[s3types.Permission]bool{}
			}
			groups[uri][g.Permission] = true
		case aws.ToString(g.Grantee.ID) == ownerID && g.Permission == s3types.PermissionFullControl:
			ownerFull = true
		default:
			return customACL, nil
		}
	}

	if !ownerFull {
		return customACL, nil
	}

	all := groups[granteeAllUsers]
	auth := groups[granteeAuthenticatedUsers]
	logs := groups[granteeLogDelivery]
	switch {
	case len(groups) == 0:
		return resource.ACLPrivate, nil
	case len(groups) == 1 && len(all) == 2 && all[s3types.PermissionRead] && all[s3types.PermissionWrite]:
		return "public-read-write", nil
	case len(groups) == 1 && len(all) == 1 && all[s3types.PermissionRead]:
		return "public-read", nil
	case len(groups) == 1 && len(auth) == 1 && auth[s3types.PermissionRead]:
		return "authenticated-read", nil
	case len(groups) == 1 && len(logs) == 2 && logs[s3types.PermissionWrite] && logs[s3types.PermissionReadAcp]:
		return "log-delivery-write", nil
	default:
		return customACL, nil
	}
}

func (p *Provider) putACL(ctx context.Context, bucket, acl string) error {
	logCall(ctx, "s3:PutBucketAcl", bucket)
	_, err := p.S3.PutBucketAcl(ctx, &s3.PutBucketAclInput{
		Bucket: aws.String(bucket),
		ACL:    s3types.BucketCannedACL(acl),
	})
	if err != nil {
		if acl == resource.ACLPrivate && hasCode(err, codeAccessControlListNotSupported) {
			return nil
		}
		return fmt.Errorf("AWS S3 put bucket acl %s failed: %w", bucket, err)
	}
	return nil
}

// deleteACL resets the bucket ACL to private.
func (p *Provider) deleteACL(ctx context.Context, entry inventory.Entry) error {
	err := p.putACL(ctx, entry.PhysicalID, resource.ACLPrivate)
	if isBucketNotFound(err) {
		return resmgr.ErrNotFound
	}
	return err
}

type encryptionState struct {
	SSEAlgorithm     string
	KMSMasterKeyID   string
	BucketKeyEnabled bool
}

func (p *Provider) desiredEncryption(r *resource.BucketEncryption, refs resmgr.Resolver) (encryptionState, inventory.Entry, error) {
	state := encryptionState{
		SSEAlgorithm:     r.Spec.SSEAlgorithm,
		BucketKeyEnabled: r.Spec.BucketKeyEnabled,
	}
	if r.Spec.KeyRef == nil {
		return state, inventory.Entry{}, nil
	}
	key, err := refs.Resolve(resource.ID{Kind: resource.KeyKind, Name: r.Spec.KeyRef.Name})
	if err != nil {
		return state, inventory.Entry{}, err
	}
	state.KMSMasterKeyID = key.ARN
	return state, key, nil
}

func (p *Provider) observeEncryption(ctx context.Context, r *resource.BucketEncryption, refs resmgr.Resolver) (*resmgr.Observation, error) {
	bucket, err := p.observeConfig(ctx, r, refs)
	if err != nil || bucket == "" {
		return absent(), err
	}

	desired, key, err := p.desiredEncryption(r, refs)
	if err != nil {
		return nil, err
	}

	logCall(ctx, "s3:GetBucketEncryption", bucket)
	out, err := p.S3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isBucketNotFound(err) || hasCode(err, codeEncryptionNotFound) {
			return absent(), nil
		}
		return nil, fmt.Errorf("AWS S3 get bucket encryption %s failed: %w", bucket, err)
	}

	live := encryptionState{}
	if out.ServerSideEncryptionConfiguration != nil && len(out.ServerSideEncryptionConfiguration.Rules) > 0 {
		rule := out.ServerSideEncryptionConfiguration.Rules[0]
		if def := rule.ApplyServerSideEncryptionByDefault; def != nil {
			live.SSEAlgorithm = string(def.SSEAlgorithm)
			live.KMSMasterKeyID = aws.ToString(def.KMSMasterKeyID)
		}
		live.BucketKeyEnabled = aws.ToBool(rule.BucketKeyEnabled)
	}
	// S3 accepts the key ID in place of the ARN
	if live.KMSMasterKeyID != "" && live.KMSMasterKeyID == key.PhysicalID {
		live.KMSMasterKeyID = key.ARN
	}

	return observed(bucket, desired, live), nil
}

func (p *Provider) putEncryption(ctx context.Context, bucket string, r *resource.BucketEncryption, refs resmgr.Resolver) error {
	desired, _, err := p.desiredEncryption(r, refs)
	if err != nil {
		return err
	}

	def := &s3types.ServerSideEncryptionByDefault{
		SSEAlgorithm: s3types.ServerSideEncryption(desired.SSEAlgorithm),
	}
	if desired.KMSMasterKeyID != "" {
		def.KMSMasterKeyID = aws.String(desired.KMSMasterKeyID)
	}

	logCall(ctx, "s3:PutBucketEncryption", bucket)
	_, err = p.S3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: aws.String(bucket),
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: def,
				BucketKeyEnabled:                   aws.Bool(desired.BucketKeyEnabled),
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("AWS S3 put bucket encryption %s failed: %w", bucket, err)
	}
	return nil
}

func (p *Provider) deleteEncryption(ctx context.Context, entry inventory.Entry) error {
	bucket := entry.PhysicalID
	logCall(ctx, "s3:DeleteBucketEncryption", bucket)
	_, err := p.S3.DeleteBucketEncryption(ctx, &s3.DeleteBucketEncryptionInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isBucketNotFound(err) || hasCode(err, codeEncryptionNotFound) {
			return resmgr.ErrNotFound
		}
		return fmt.Errorf("AWS S3 delete bucket encryption %s failed: %w", bucket, err)
	}
	return nil
}

type publicAccessBlockState struct {
	BlockPublicAcls       bool
	BlockPublicPolicy     bool
	IgnorePublicAcls      bool
	RestrictPublicBuckets bool
}

func (p *Provider) observePublicAccessBlock(ctx context.Context, r *resource.BucketPublicAccessBlock, refs resmgr.Resolver) (*resmgr.Observation, error) {
	bucket, err := p.observeConfig(ctx, r, refs)
	if err != nil || bucket == "" {
		return absent(), err
	}

	logCall(ctx, "s3:GetPublicAccessBlock", bucket)
	out, err := p.S3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isBucketNotFound(err) || hasCode(err, codeNoSuchPublicAccessBlock) {
			return absent(), nil
		}
		return nil, fmt.Errorf("AWS S3 get public access block %s failed: %w", bucket, err)
	}

	live := publicAccessBlockState{}
	if c := out.PublicAccessBlockConfiguration; c != nil {
		live = publicAccessBlockState{
			BlockPublicAcls:       aws.ToBool(c.BlockPublicAcls),
			BlockPublicPolicy:     aws.ToBool(c.BlockPublicPolicy),
			IgnorePublicAcls:      aws.ToBool(c.IgnorePublicAcls),
			RestrictPublicBuckets: aws.ToBool(c.RestrictPublicBuckets),
		}
	}
	desired := publicAccessBlockState{
		BlockPublicAcls:       r.Spec.BlockPublicAcls,
		BlockPublicPolicy:     r.Spec.BlockPublicPolicy,
		IgnorePublicAcls:      r.Spec.IgnorePublicAcls,
		RestrictPublicBuckets: r.Spec.RestrictPublicBuckets,
	}
	return observed(bucket, desired, live), nil
}

func (p *Provider) putPublicAccessBlock(ctx context.Context, bucket string, spec resource.BucketPublicAccessBlockSpec) error {
	logCall(ctx, "s3:PutPublicAccessBlock", bucket)
	_, err := p.S3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: aws.String(bucket),
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(spec.BlockPublicAcls),
			BlockPublicPolicy:     aws.Bool(spec.BlockPublicPolicy),
			IgnorePublicAcls:      aws.Bool(spec.IgnorePublicAcls),
			RestrictPublicBuckets: aws.Bool(spec.RestrictPublicBuckets),
		},
	})
	if err != nil {
		return fmt.Errorf("AWS S3 put public access block %s failed: %w", bucket, err)
	}
	return nil
}

func (p *Provider) deletePublicAccessBlock(ctx context.Context, entry inventory.Entry) error {
	bucket := entry.PhysicalID
	logCall(ctx, "s3:DeletePublicAccessBlock", bucket)
	_, err := p.S3.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isBucketNotFound(err) || hasCode(err, codeNoSuchPublicAccessBlock) {
			return resmgr.ErrNotFound
		}
		return fmt.Errorf("AWS S3 delete public access block %s failed: %w", bucket, err)
	}
	return nil
}
