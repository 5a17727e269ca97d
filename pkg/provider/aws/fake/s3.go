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

// Package fake provides in-memory implementations of the S3, KMS and STS
// clients for testing the provider and the kubeconfig store.
package fake

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	// OwnerID is the canonical user ID reported as the owner of every bucket.
	OwnerID = "fake-owner"

	nullVersion = "null"
)

// Object is a stored object version or delete marker.
type Object struct {
	Key          string
	VersionID    string
	Body         []byte
	ContentType  string
	Metadata     map[string]string
	SSE          s3types.ServerSideEncryption
	SSEKMSKeyID  string
	DeleteMarker bool
	LastModified time.Time
}

func (o *Object) etag() string {
	sum := md5.Sum(o.Body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// Bucket holds the state of a fake bucket.
type Bucket struct {
	Name              string
	Region            string
	Tags              map[string]string
	Versioning        s3types.BucketVersioningStatus
	ACL               s3types.BucketCannedACL
	Encryption        *s3types.ServerSideEncryptionConfiguration
	PublicAccessBlock *s3types.PublicAccessBlockConfiguration

	// Objects holds the versions of each key, latest last.
	Objects map[string][]*Object
}

func (b *Bucket) latest(key string) *Object {
	versions := b.Objects[key]
	if len(versions) == 0 {
		return nil
	}
	o := versions[len(versions)-1]
	if o.DeleteMarker {
		return nil
	}
	return o
}

func (b *Bucket) empty() bool {
	for _, versions := range b.Objects {
		if len(versions) > 0 {
			return false
		}
	}
	return true
}

type multipartUpload struct {
	bucket string
	input  *s3.CreateMultipartUploadInput
	parts  map[int32][]byte
}

// S3 is an in-memory S3 client.
type S3 struct {
	mu sync.Mutex

	Buckets map[string]*Bucket

	// Failures maps an operation name, optionally followed by a space and a
	// bucket name, to the error returned by that operation.
	Failures map[string]error

	calls   []string
	seq     int
	uploads map[string]*multipartUpload
	now     func() time.Time
}

func NewS3() *S3 {
	return &S3{
		Buckets:  map[string]*Bucket{},
		Failures: map[string]error{},
		uploads:  map[string]*multipartUpload{},
		now:      time.Now,
	}
}

// Calls returns the operations invoked so far in the form 'Operation bucket'.
func (f *S3) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsOf returns the number of times the operation was invoked.
func (f *S3) CallsOf(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func apiError(code, format string, a ...interface{}) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, a...), Fault: smithy.FaultClient}
}

// record logs the call and returns the injected failure, if any. Must be called with the lock held.
func (f *S3) record(op string, bucket *string) error {
	name := aws.ToString(bucket)
	f.calls = append(f.calls, op+" "+name)
	if err, ok := f.Failures[op+" "+name]; ok {
		return err
	}
	if err, ok := f.Failures[op]; ok {
		return err
	}
	return nil
}

func (f *S3) bucket(name *string) (*Bucket, error) {
	b, ok := f.Buckets[aws.ToString(name)]
	if !ok {
		return nil, apiError("NoSuchBucket", "The specified bucket %s does not exist", aws.ToString(name))
	}
	return b, nil
}

func (f *S3) nextVersion() string {
	f.seq++
	return fmt.Sprintf("v%06d", f.seq)
}

func (f *S3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateBucket", in.Bucket); err != nil {
		return nil, err
	}

	name := aws.ToString(in.Bucket)
	if _, ok := f.Buckets[name]; ok {
		return nil, apiError("BucketAlreadyOwnedByYou", "bucket %s already exists", name)
	}
	region := "us-east-1"
	if in.CreateBucketConfiguration != nil && in.CreateBucketConfiguration.LocationConstraint != "" {
		region = string(in.CreateBucketConfiguration.LocationConstraint)
	}
	f.Buckets[name] = &Bucket{
		Name:   name,
		Region: region,
		ACL:    s3types.BucketCannedACLPrivate,
		Encryption: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{{
				ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				},
				BucketKeyEnabled: aws.Bool(false),
			}},
		},
		Objects: map[string][]*Object{},
	}
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

func (f *S3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("HeadBucket", in.Bucket); err != nil {
		return nil, err
	}

	b, ok := f.Buckets[aws.ToString(in.Bucket)]
	if !ok {
		return nil, &s3types.NotFound{Message: aws.String("Not Found")}
	}
	return &s3.HeadBucketOutput{BucketRegion: aws.String(b.Region)}, nil
}

func (f *S3) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteBucket", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if !b.empty() {
		return nil, apiError("BucketNotEmpty", "The bucket %s you tried to delete is not empty", b.Name)
	}
	delete(f.Buckets, b.Name)
	return &s3.DeleteBucketOutput{}, nil
}

func (f *S3) GetBucketTagging(_ context.Context, in *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetBucketTagging", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if len(b.Tags) == 0 {
		return nil, apiError("NoSuchTagSet", "The TagSet does not exist")
	}
	keys := make([]string, 0, len(b.Tags))
	for k := range b.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &s3.GetBucketTaggingOutput{}
	for _, k := range keys {
		out.TagSet = append(out.TagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(b.Tags[k])})
	}
	return out, nil
}

func (f *S3) PutBucketTagging(_ context.Context, in *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutBucketTagging", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.Tags = map[string]string{}
	if in.Tagging != nil {
		for _, t := range in.Tagging.TagSet {
			b.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return &s3.PutBucketTaggingOutput{}, nil
}

func (f *S3) DeleteBucketTagging(_ context.Context, in *s3.DeleteBucketTaggingInput, _ ...func(*s3.Options)) (*s3.DeleteBucketTaggingOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteBucketTagging", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.Tags = nil
	return &s3.DeleteBucketTaggingOutput{}, nil
}

func (f *S3) GetBucketVersioning(_ context.Context, in *s3.GetBucketVersioningInput, _ ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetBucketVersioning", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	return &s3.GetBucketVersioningOutput{Status: b.Versioning}, nil
}

func (f *S3) PutBucketVersioning(_ context.Context, in *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutBucketVersioning", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if in.VersioningConfiguration == nil {
		return nil, apiError("MalformedXML", "missing versioning configuration")
	}
	b.Versioning = in.VersioningConfiguration.Status
	return &s3.PutBucketVersioningOutput{}, nil
}

func (f *S3) GetBucketAcl(_ context.Context, in *s3.GetBucketAclInput, _ ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetBucketAcl", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}

	group := func(uri string, p s3types.Permission) s3types.Grant {
		return s3types.Grant{
			Grantee:    &s3types.Grantee{Type: s3types.TypeGroup, URI: aws.String(uri)},
			Permission: p,
		}
	}
	const (
		allUsers      = "http://acs.amazonaws.com/groups/global/AllUsers"
		authenticated = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
	)

	out := &s3.GetBucketAclOutput{
		Owner: &s3types.Owner{ID: aws.String(OwnerID)},
		Grants: []s3types.Grant{{
			Grantee:    &s3types.Grantee{Type: s3types.TypeCanonicalUser, ID: aws.String(OwnerID)},
			Permission: s3types.PermissionFullControl,
		}},
	}
	switch b.ACL {
	case s3types.BucketCannedACLPublicRead:
		out.Grants = append(out.Grants, group(allUsers, s3types.PermissionRead))
	case s3types.BucketCannedACLPublicReadWrite:
		out.Grants = append(out.Grants, group(allUsers, s3types.PermissionRead), group(allUsers, s3types.PermissionWrite))
	case s3types.BucketCannedACLAuthenticatedRead:
		out.Grants = append(out.Grants, group(authenticated, s3types.PermissionRead))
	}
	return out, nil
}

func (f *S3) PutBucketAcl(_ context.Context, in *s3.PutBucketAclInput, _ ...func(*s3.Options)) (*s3.PutBucketAclOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutBucketAcl", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	switch in.ACL {
	case s3types.BucketCannedACLPrivate, s3types.BucketCannedACLPublicRead,
		s3types.BucketCannedACLPublicReadWrite, s3types.BucketCannedACLAuthenticatedRead:
	default:
		return nil, apiError("InvalidArgument", "canned ACL %q is not supported", in.ACL)
	}
	b.ACL = in.ACL
	return &s3.PutBucketAclOutput{}, nil
}

func (f *S3) GetBucketEncryption(_ context.Context, in *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetBucketEncryption", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if b.Encryption == nil {
		return nil, apiError("ServerSideEncryptionConfigurationNotFoundError",
			"The server side encryption configuration was not found")
	}
	return &s3.GetBucketEncryptionOutput{ServerSideEncryptionConfiguration: b.Encryption}, nil
}

func (f *S3) PutBucketEncryption(_ context.Context, in *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutBucketEncryption", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.Encryption = in.ServerSideEncryptionConfiguration
	return &s3.PutBucketEncryptionOutput{}, nil
}

func (f *S3) DeleteBucketEncryption(_ context.Context, in *s3.DeleteBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.DeleteBucketEncryptionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteBucketEncryption", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.Encryption = nil
	return &s3.DeleteBucketEncryptionOutput{}, nil
}

func (f *S3) GetPublicAccessBlock(_ context.Context, in *s3.GetPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPublicAccessBlock", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	if b.PublicAccessBlock == nil {
		return nil, apiError("NoSuchPublicAccessBlockConfiguration",
			"The public access block configuration was not found")
	}
	return &s3.GetPublicAccessBlockOutput{PublicAccessBlockConfiguration: b.PublicAccessBlock}, nil
}

func (f *S3) PutPublicAccessBlock(_ context.Context, in *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PutPublicAccessBlock", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.PublicAccessBlock = in.PublicAccessBlockConfiguration
	return &s3.PutPublicAccessBlockOutput{}, nil
}

func (f *S3) DeletePublicAccessBlock(_ context.Context, in *s3.DeletePublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeletePublicAccessBlock", in.Bucket); err != nil {
		return nil, err
	}

	b, err := f.bucket(in.Bucket)
	if err != nil {
		return nil, err
	}
	b.PublicAccessBlock = nil
	return &s3.DeletePublicAccessBlockOutput{}, nil
}
