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
	"errors"

	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/smithy-go"
)

// S3 and KMS error codes handled by the reconciler.
const (
	codeNotFound                      = "NotFound"
	codeNoSuchBucket                  = "NoSuchBucket"
	codeNoSuchTagSet                  = "NoSuchTagSet"
	codeBucketAlreadyOwnedByYou       = "BucketAlreadyOwnedByYou"
	codeEncryptionNotFound            = "ServerSideEncryptionConfigurationNotFoundError"
	codeNoSuchPublicAccessBlock       = "NoSuchPublicAccessBlockConfiguration"
	codeAccessControlListNotSupported = "AccessControlListNotSupported"
	codeKMSNotFound                   = "NotFoundException"
	codeKMSInvalidState               = "KMSInvalidStateException"
)

// errorCode returns the API error code or an empty string.
func errorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func hasCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	code := errorCode(err)
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

func isBucketNotFound(err error) bool {
	return hasCode(err, codeNotFound, codeNoSuchBucket)
}

func isKeyNotFound(err error) bool {
	var nf *kmstypes.NotFoundException
	return errors.As(err, &nf) || hasCode(err, codeKMSNotFound)
}
