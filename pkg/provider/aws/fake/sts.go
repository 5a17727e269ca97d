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
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	Account = "123456789012"
	Region  = "eu-west-1"
)

// STS is an in-memory STS client.
type STS struct {
	Account string
	Err     error
}

func (f *STS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.Account),
		Arn:     aws.String("arn:aws:iam::" + f.Account + ":user/kcstore"),
		UserId:  aws.String("AIDAFAKEUSER"),
	}, nil
}

// Cloud groups the fake clients of one account and region.
type Cloud struct {
	S3     *S3
	KMS    *KMS
	STS    *STS
	Region string
}

// NewCloud returns empty fake clients for the default test account and region.
func NewCloud() *Cloud {
	return &Cloud{
		S3:     NewS3(),
		KMS:    NewKMS(Region, Account),
		STS:    &STS{Account: Account},
		Region: Region,
	}
}
