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
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// maxDeleteObjects is the DeleteObjects batch limit.
const maxDeleteObjects = 1000

type bucketState struct {
	BucketName string
	Tags       resource.Tags
}

func bucketARN(name string) string {
	return "arn:aws:s3:::" + name
}

func (p *Provider) bucketEntry(b *resource.Bucket, name string) inventory.Entry {
	return inventory.Entry{
		PhysicalID: name,
		ARN:        bucketARN(name),
		Attributes: map[string]string{
			inventory.AttrBucketName:   name,
			inventory.AttrForceDestroy: strconv.FormatBool(b.Spec.ForceDestroy),
			inventory.AttrRegion:       p.Region,
		},
	}
}

func (p *Provider) bucketExists(ctx context.Context, name string) (bool, error) {
	logCall(ctx, "s3:HeadBucket", name)
	_, err := p.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		if isBucketNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("AWS S3 head bucket %s failed: %w", name, err)
	}
	return true, nil
}

func (p *Provider) bucketTags(ctx context.Context, name string) (resource.Tags, error) {
	logCall(ctx, "s3:GetBucketTagging", name)
	out, err := p.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
	if err != nil {
		if hasCode(err, codeNoSuchTagSet) {
			return resource.Tags{}, nil
		}
		return nil, fmt.Errorf("AWS S3 get bucket tagging %s failed: %w", name, err)
	}
	tags := resource.Tags{}
	for _, t := range out.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return tags, nil
}

func (p *Provider) observeBucket(ctx context.Context, b *resource.Bucket, refs resmgr.Resolver) (*resmgr.Observation, error) {
	name := b.Spec.BucketName
	desired := bucketState{BucketName: name, Tags: b.Spec.Tags}

	exists, err := p.bucketExists(ctx, name)
	if err != nil {
		return nil, err
	}

	if !exists {
		// a recorded bucket with another name is replaced
		previous, err := refs.Resolve(b.ID())
		if err != nil || previous.PhysicalID == "" || previous.PhysicalID == name {
			return &resmgr.Observation{Status: resmgr.StatusAbsent}, nil
		}
		found, err := p.bucketExists(ctx, previous.PhysicalID)
		if err != nil {
			return nil, err
		}
		if !found {
			return &resmgr.Observation{Status: resmgr.StatusAbsent}, nil
		}
		_, d := diff(desired, bucketState{BucketName: previous.PhysicalID, Tags: desired.Tags})
		return &resmgr.Observation{
			Status:  resmgr.StatusDiverged,
			Replace: true,
			Diff:    d,
			Entry:   previous,
		}, nil
	}

	tags, err := p.bucketTags(ctx, name)
	if err != nil {
		return nil, err
	}

	obs := &resmgr.Observation{Status: resmgr.StatusConverged, Entry: p.bucketEntry(b, name)}
	if drift, d := diff(desired, bucketState{BucketName: name, Tags: tags}); drift {
		obs.Status = resmgr.StatusDiverged
		obs.Diff = d
	}
	return obs, nil
}

func (p *Provider) createBucket(ctx context.Context, b *resource.Bucket) (inventory.Entry, error) {
	name := b.Spec.BucketName
	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if p.Region != "" && p.Region != defaultRegion {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.Region),
		}
	}

	logCall(ctx, "s3:CreateBucket", name)
	if _, err := p.S3.CreateBucket(ctx, in); err != nil && !hasCode(err, codeBucketAlreadyOwnedByYou) {
		return inventory.Entry{}, fmt.Errorf("AWS S3 create bucket %s failed: %w", name, err)
	}

	if p.BucketWaitTimeout > 0 {
		waiter := s3.NewBucketExistsWaiter(p.S3)
		if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}, p.BucketWaitTimeout); err != nil {
			return inventory.Entry{}, fmt.Errorf("AWS S3 bucket %s not available: %w", name, err)
		}
	}

	if err := p.putBucketTags(ctx, name, b.Spec.Tags); err != nil {
		return inventory.Entry{}, err
	}
	return p.bucketEntry(b, name), nil
}

func (p *Provider) updateBucket(ctx context.Context, b *resource.Bucket) (inventory.Entry, error) {
	name := b.Spec.BucketName
	if err := p.putBucketTags(ctx, name, b.Spec.Tags); err != nil {
		return inventory.Entry{}, err
	}
	return p.bucketEntry(b, name), nil
}

func (p *Provider) putBucketTags(ctx context.Context, name string, tags resource.Tags) error {
	if len(tags) == 0 {
		logCall(ctx, "s3:DeleteBucketTagging", name)
		if _, err := p.S3.DeleteBucketTagging(ctx, &s3.DeleteBucketTaggingInput{Bucket: aws.String(name)}); err != nil {
			return fmt.Errorf("AWS S3 delete bucket tagging %s failed: %w", name, err)
		}
		return nil
	}

	tagSet := make([]s3types.Tag, 0, len(tags))
	for _, k := range tags.Keys() {
		tagSet = append(tagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}

	logCall(ctx, "s3:PutBucketTagging", name)
	_, err := p.S3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(name),
		Tagging: &s3types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("AWS S3 put bucket tagging %s failed: %w", name, err)
	}
	return nil
}

func (p *Provider) deleteBucket(ctx context.Context, entry inventory.Entry) error {
	name := entry.PhysicalID

	if entry.Attribute(inventory.AttrForceDestroy) == "true" {
		if err := p.emptyBucket(ctx, name); err != nil {
			if isBucketNotFound(err) {
				return resmgr.ErrNotFound
			}
			return err
		}
	}

	logCall(ctx, "s3:DeleteBucket", name)
	if _, err := p.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		if isBucketNotFound(err) {
			return resmgr.ErrNotFound
		}
		return fmt.Errorf("AWS S3 delete bucket %s failed: %w", name, err)
	}

	if p.BucketWaitTimeout > 0 {
		waiter := s3.NewBucketNotExistsWaiter(p.S3)
		if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}, p.BucketWaitTimeout); err != nil {
			return fmt.Errorf("AWS S3 bucket %s still exists: %w", name, err)
		}
	}
	return nil
}

// emptyBucket deletes every object version and delete marker.
func (p *Provider) emptyBucket(ctx context.Context, name string) error {
	in := &s3.ListObjectVersionsInput{Bucket: aws.String(name)}

	for {
		logCall(ctx, "s3:ListObjectVersions", name)
		page, err := p.S3.ListObjectVersions(ctx, in)
		if err != nil {
			return fmt.Errorf("AWS S3 list object versions %s failed: %w", name, err)
		}

		var ids []s3types.ObjectIdentifier
		for _, v := range page.Versions {
			ids = append(ids, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range page.DeleteMarkers {
			ids = append(ids, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}

		if err := p.deleteObjects(ctx, name, ids); err != nil {
			return err
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}
}

func (p *Provider) deleteObjects(ctx context.Context, name string, ids []s3types.ObjectIdentifier) error {
	for start := 0; start < len(ids); start += maxDeleteObjects {
		end := start + maxDeleteObjects
		if end > len(ids) {
			end = len(ids)
		}

		logCall(ctx, "s3:DeleteObjects", name)
		out, err := p.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(name),
			Delete: &s3types.Delete{Objects: ids[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("AWS S3 delete objects %s failed: %w", name, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("AWS S3 delete object %s/%s failed: %s",
				name, aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}
	return nil
}
