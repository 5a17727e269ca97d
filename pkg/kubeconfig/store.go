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

package kubeconfig

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/stefanprodan/kcstore/pkg/logger"
)

const (
	// DefaultPrefix is the key prefix of the kubeconfig objects.
	DefaultPrefix = "kubeconfigs/"

	fileSuffix  = ".yaml"
	contentType = "application/yaml"

	// digestMetadata holds the sha256 of the stored bytes.
	digestMetadata = "kcstore-digest"
)

var ErrNotFound = errors.New("kubeconfig not found")

// ObjectAPI is the subset of the S3 client used to store kubeconfigs.
type ObjectAPI interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Object describes a stored kubeconfig.
type Object struct {
	Name         string
	Key          string
	VersionID    string
	Size         int64
	LastModified time.Time
	Encrypted    bool
}

// Store reads and writes kubeconfigs in a bucket, objects are encrypted
// at rest with the given KMS key.
type Store struct {
	Client ObjectAPI
	Bucket string
	Prefix string

	// KeyARN is the KMS key used for server-side encryption,
	// the bucket default applies when empty.
	KeyARN string

	Cipher Cipher
}

func (s *Store) prefix() string {
	if s.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(s.Prefix, "/") + "/"
}

func (s *Store) objectKey(name string, encrypted bool) string {
	key := path.Join(s.prefix(), name+fileSuffix)
	if encrypted {
		key += AgeSuffix
	}
	return key
}

// objectName returns the kubeconfig name of the key, or false for foreign objects.
func (s *Store) objectName(key string) (string, bool, bool) {
	name := strings.TrimPrefix(key, s.prefix())
	encrypted := strings.HasSuffix(name, AgeSuffix)
	name = strings.TrimSuffix(name, AgeSuffix)
	if !strings.HasSuffix(name, fileSuffix) {
		return "", false, false
	}
	name = strings.TrimSuffix(name, fileSuffix)
	return name, encrypted, ValidateName(name) == nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Push uploads the kubeconfig under the given name. When the cipher has
// recipients the content is age encrypted before upload and the plain text
// object, if any, is removed.
func (s *Store) Push(ctx context.Context, name string, data []byte) (*Object, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	encrypted := s.Cipher.Enabled()
	body := data
	if encrypted {
		sealed, err := s.Cipher.Seal(data)
		if err != nil {
			return nil, fmt.Errorf("age encryption failed: %w", err)
		}
		body = sealed
	}

	key := s.objectKey(name, encrypted)
	in := &s3.PutObjectInput{
		Bucket:               aws.String(s.Bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAwsKms,
		Metadata:             map[string]string{digestMetadata: digest(body)},
	}
	if s.KeyARN != "" {
		in.SSEKMSKeyId = aws.String(s.KeyARN)
	}

	logger.Ctx(ctx).Debug().Str("bucket", s.Bucket).Str("key", key).Msg("uploading kubeconfig")
	out, err := manager.NewUploader(s.Client).Upload(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("AWS S3 upload %s failed: %w", key, err)
	}

	// drop the copy stored with the other encryption mode
	other := s.objectKey(name, !encrypted)
	if _, err := s.head(ctx, other); err == nil {
		if err := s.deleteKey(ctx, other); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	return &Object{
		Name:      name,
		Key:       key,
		VersionID: aws.ToString(out.VersionID),
		Size:      int64(len(body)),
		Encrypted: encrypted,
	}, nil
}

// Pull downloads and, when needed, decrypts the kubeconfig with the given name.
func (s *Store) Pull(ctx context.Context, name string) ([]byte, *Object, error) {
	obj, err := s.Stat(ctx, name)
	if err != nil {
		return nil, nil, err
	}

	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("AWS S3 get object %s failed: %w", obj.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", obj.Key, err)
	}

	if want, ok := out.Metadata[digestMetadata]; ok && want != digest(data) {
		return nil, nil, fmt.Errorf("%s digest mismatch, expected %s", obj.Key, want)
	}

	if obj.Encrypted {
		if data, err = s.Cipher.Open(data); err != nil {
			return nil, nil, err
		}
	}
	obj.VersionID = aws.ToString(out.VersionId)
	return data, obj, nil
}

// Stat returns the stored object of the kubeconfig, plain text objects win
// over encrypted ones.
func (s *Store) Stat(ctx context.Context, name string) (*Object, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	for _, encrypted := range []bool{false, true} {
		key := s.objectKey(name, encrypted)
		out, err := s.head(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Object{
			Name:         name,
			Key:          key,
			VersionID:    aws.ToString(out.VersionId),
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified),
			Encrypted:    encrypted,
		}, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
}

// List returns the stored kubeconfigs sorted by name.
func (s *Store) List(ctx context.Context) ([]Object, error) {
	var result []Object
	paginator := s3.NewListObjectsV2Paginator(s.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.prefix()),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("AWS S3 list objects %s failed: %w", s.Bucket, err)
		}
		for _, o := range page.Contents {
			name, encrypted, ok := s.objectName(aws.ToString(o.Key))
			if !ok {
				continue
			}
			result = append(result, Object{
				Name:         name,
				Key:          aws.ToString(o.Key),
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
				Encrypted:    encrypted,
			})
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Delete removes the kubeconfig, previous versions are kept by the bucket versioning.
func (s *Store) Delete(ctx context.Context, name string) error {
	obj, err := s.Stat(ctx, name)
	if err != nil {
		return err
	}
	return s.deleteKey(ctx, obj.Key)
}

func (s *Store) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("AWS S3 head object %s failed: %w", key, err)
	}
	return out, nil
}

func (s *Store) deleteKey(ctx context.Context, key string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("AWS S3 delete object %s failed: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "NoSuchKey" || ae.ErrorCode() == "NotFound"
	}
	return false
}
