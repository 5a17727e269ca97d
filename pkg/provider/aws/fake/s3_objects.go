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

package fake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// putObject stores a new version of the object. Must be called with the lock held.
func (f *S3) putObject(b *Bucket, obj *Object) {
	obj.LastModified = f.now()
	if b.Versioning == s3types.BucketVersioningStatusEnabled {
		obj.VersionID = f.nextVersion()
		b.Objects[obj.Key] = append(b.Objects[obj.Key], obj)
		return
	}
	obj.VersionID = nullVersion
	versions := b.Objects[obj.Key]
	kept := versions[:0]
	for _, v := range versions {
		if v.VersionID != nullVersion {
			kept = append(kept, v)
		}
	}
	b.Objects[obj.Key] = append(kept, obj)
}

func (f *S3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	var body []byte
	if in.Body != nil {
		data, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		body = data
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutObject", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	obj := &Object{
		Key:         aws.ToString(in.Key),
		Body:        body,
		ContentType: aws.ToString(in.ContentType),
		Metadata:    in.Metadata,
		SSE:         in.ServerSideEncryption,
		SSEKMSKeyID: aws.ToString(in.SSEKMSKeyId),
	}
	f.putObject(b, obj)

	return &s3.PutObjectOutput{
		ETag:                 aws.String(obj.etag()),
		VersionId:            aws.String(obj.VersionID),
		ServerSideEncryption: obj.SSE,
		SSEKMSKeyId:          in.SSEKMSKeyId,
	}, nil
}

func (f *S3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetObject", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	obj := b.latest(aws.ToString(in.Key))
	if obj == nil {
		return nil, &s3types.NoSuchKey{Message: aws.String(fmt.Sprintf("The specified key %s does not exist", aws.ToString(in.Key)))}
	}

	return &s3.GetObjectOutput{
		Body:                 io.NopCloser(bytes.NewReader(obj.Body)),
		ContentLength:        aws.Int64(int64(len(obj.Body))),
		ContentType:          aws.String(obj.ContentType),
		ETag:                 aws.String(obj.etag()),
		LastModified:         aws.Time(obj.LastModified),
		Metadata:             obj.Metadata,
		ServerSideEncryption: obj.SSE,
		SSEKMSKeyId:          aws.String(obj.SSEKMSKeyID),
		VersionId:            aws.String(obj.VersionID),
	}, nil
}

func (f *S3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("HeadObject", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	obj := b.latest(aws.ToString(in.Key))
	if obj == nil {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}

	return &s3.HeadObjectOutput{
		ContentLength:        aws.Int64(int64(len(obj.Body))),
		ContentType:          aws.String(obj.ContentType),
		ETag:                 aws.String(obj.etag()),
		LastModified:         aws.Time(obj.LastModified),
		Metadata:             obj.Metadata,
		ServerSideEncryption: obj.SSE,
		SSEKMSKeyId:          aws.String(obj.SSEKMSKeyID),
		VersionId:            aws.String(obj.VersionID),
	}, nil
}

func (f *S3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteObject", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)

	if in.VersionId != nil {
		f.removeVersion(b, key, aws.ToString(in.VersionId))
		return &s3.DeleteObjectOutput{VersionId: in.VersionId}, nil
	}

	if b.Versioning == s3types.BucketVersioningStatusEnabled {
		marker := &Object{Key: key, DeleteMarker: true}
		f.putObject(b, marker)
		return &s3.DeleteObjectOutput{DeleteMarker: aws.Bool(true), VersionId: aws.String(marker.VersionID)}, nil
	}

	delete(b.Objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *S3) removeVersion(b *Bucket, key, versionID string) {
	versions := b.Objects[key]
	kept := versions[:0]
	for _, v := range versions {
		if v.VersionID != versionID {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(b.Objects, key)
		return
	}
	b.Objects[key] = kept
}

func (f *S3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteObjects", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if in.Delete == nil || len(in.Delete.Objects) == 0 {
		return nil, apiError("MalformedXML", "no objects to delete")
	}
	if len(in.Delete.Objects) > 1000 {
		return nil, apiError("MalformedXML", "at most 1000 objects can be deleted at once")
	}

	out := &s3.DeleteObjectsOutput{}
	for _, id := range in.Delete.Objects {
		key := aws.ToString(id.Key)
		if id.VersionId != nil {
			f.removeVersion(b, key, aws.ToString(id.VersionId))
		} else {
			delete(b.Objects, key)
		}
		if !aws.ToBool(in.Delete.Quiet) {
			out.Deleted = append(out.Deleted, s3types.DeletedObject{Key: id.Key, VersionId: id.VersionId})
		}
	}
	return out, nil
}

func (f *S3) sortedKeys(b *Bucket, prefix string) []string {
	keys := make([]string, 0, len(b.Objects))
	for k := range b.Objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ListObjectsV2 returns every matching object in a single page.
func (f *S3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListObjectsV2", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	out := &s3.ListObjectsV2Output{Name: in.Bucket, Prefix: in.Prefix, IsTruncated: aws.Bool(false)}
	for _, k := range f.sortedKeys(b, aws.ToString(in.Prefix)) {
		obj := b.latest(k)
		if obj == nil {
			continue
		}
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.Body))),
			ETag:         aws.String(obj.etag()),
			LastModified: aws.Time(obj.LastModified),
		})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

// ListObjectVersions returns every version and delete marker in a single page.
func (f *S3) ListObjectVersions(_ context.Context, in *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListObjectVersions", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	out := &s3.ListObjectVersionsOutput{Name: in.Bucket, IsTruncated: aws.Bool(false)}
	for _, k := range f.sortedKeys(b, aws.ToString(in.Prefix)) {
		versions := b.Objects[k]
		for i, v := range versions {
			latest := i == len(versions)-1
			if v.DeleteMarker {
				out.DeleteMarkers = append(out.DeleteMarkers, s3types.DeleteMarkerEntry{
					Key:       aws.String(k),
					VersionId: aws.String(v.VersionID),
					IsLatest:  aws.Bool(latest),
				})
				continue
			}
			out.Versions = append(out.Versions, s3types.ObjectVersion{
				Key:       aws.String(k),
				VersionId: aws.String(v.VersionID),
				IsLatest:  aws.Bool(latest),
				Size:      aws.Int64(int64(len(v.Body))),
			})
		}
	}
	return out, nil
}

func (f *S3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateMultipartUpload", in.Bucket); err != nil {
		return nil, err
	}

	if _, err := f.bucket(in.Bucket); err != nil {
		return nil, err
	}
	f.seq++
	id := fmt.Sprintf("upload-%06d", f.seq)
	f.uploads[id] = &multipartUpload{bucket: aws.ToString(in.Bucket), input: in, parts: map[int32][]byte{}}
	return &s3.CreateMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key, UploadId: aws.String(id)}, nil
}

func (f *S3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UploadPart", in.Bucket); err != nil {
		return nil, err
	}

	u, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, apiError("NoSuchUpload", "upload %s does not exist", aws.ToString(in.UploadId))
	}
	u.parts[aws.ToInt32(in.PartNumber)] = data
	part := &Object{Body: data}
	return &s3.UploadPartOutput{ETag: aws.String(part.etag())}, nil
}

func (f *S3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CompleteMultipartUpload", in.Bucket); err != nil {
		return nil, err
	}

	id := aws.ToString(in.UploadId)
	u, ok := f.uploads[id]
	if !ok {
		return nil, apiError("NoSuchUpload", "upload %s does not exist", id)
	}
	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	numbers := make([]int, 0, len(u.parts))
	for n := range u.parts {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)
	var body []byte
	for _, n := range numbers {
		body = append(body, u.parts[int32(n)]...)
	}

	obj := &Object{
		Key:         aws.ToString(in.Key),
		Body:        body,
		ContentType: aws.ToString(u.input.ContentType),
		Metadata:    u.input.Metadata,
		SSE:         u.input.ServerSideEncryption,
		SSEKMSKeyID: aws.ToString(u.input.SSEKMSKeyId),
	}
	f.putObject(b, obj)
	delete(f.uploads, id)

	return &s3.CompleteMultipartUploadOutput{
		Bucket:    in.Bucket,
		Key:       in.Key,
		ETag:      aws.String(obj.etag()),
		VersionId: aws.String(obj.VersionID),
	}, nil
}

func (f *S3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AbortMultipartUpload", in.Bucket); err != nil {
		return nil, err
	}
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}
