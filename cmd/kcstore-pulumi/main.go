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

package main

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"

	"github.com/stefanprodan/kcstore/pkg/pulumistack"
	"github.com/stefanprodan/kcstore/pkg/resource"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

// Stack config:
//
//	kcstore:bucketName  the name of the S3 bucket (required)
//	kcstore:tags        tags applied to the bucket and the key
func main() {
	pulumi.Run(func(ctx *pulumi.Context) error {
		conf := config.New(ctx, "kcstore")

		var tags map[string]string
		if err := conf.GetObject("tags", &tags); err != nil {
			return err
		}

		set, err := stack.Kubeconfig(stack.Options{
			BucketName: conf.Require("bucketName"),
			BaseTags:   resource.Tags(tags),
		})
		if err != nil {
			return err
		}

		st, err := pulumistack.New(ctx, set)
		if err != nil {
			return err
		}

		bucket := st.Buckets[resource.ID{Kind: resource.BucketKind, Name: stack.Name}.String()]
		key := st.Keys[resource.ID{Kind: resource.KeyKind, Name: stack.Name}.String()]

		ctx.Export("bucketName", bucket.Bucket)
		ctx.Export("bucketArn", bucket.Arn)
		ctx.Export("kmsKeyId", key.KeyId)
		ctx.Export("kmsKeyArn", key.Arn)
		return nil
	})
}
