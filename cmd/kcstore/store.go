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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/kubeconfig"
	"github.com/stefanprodan/kcstore/pkg/resource"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

// storeFlags locates the bucket and the KMS key of a kubeconfig store.
type storeFlags struct {
	inventoryName string
	bucketName    string
	keyARN        string
	prefix        string
}

func (f *storeFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.inventoryName, "inventory-name", "i", stack.Name,
		"The inventory used to look up the bucket and the KMS key.")
	cmd.Flags().StringVar(&f.bucketName, "bucket-name", "",
		"The name of the S3 bucket, overrides the bucket recorded in the inventory.")
	cmd.Flags().StringVar(&f.keyARN, "kms-key-arn", "",
		"The ARN of the KMS key, overrides the key recorded in the inventory.")
	cmd.Flags().StringVar(&f.prefix, "prefix", kubeconfig.DefaultPrefix,
		"The key prefix of the kubeconfig objects.")
}

// open returns a store for the bucket and key given as flags or recorded in the inventory.
func (f *storeFlags) open(ctx context.Context, cipher kubeconfig.Cipher) (*kubeconfig.Store, error) {
	bucket, keyARN := f.bucketName, f.keyARN

	if bucket == "" || keyARN == "" {
		invStorage, err := newInventoryStorage()
		if err != nil {
			return nil, err
		}
		inv, err := invStorage.GetInventory(ctx, f.inventoryName)
		switch {
		case errors.Is(err, inventory.ErrNotFound) && bucket != "":
		case err != nil:
			return nil, fmt.Errorf("inventory query failed, error: %w", err)
		default:
			b, k, err := storeEntries(inv)
			if err != nil {
				return nil, err
			}
			if bucket == "" {
				bucket = b
			}
			if keyARN == "" {
				keyARN = k
			}
		}
	}

	if bucket == "" {
		return nil, fmt.Errorf("inventory %s has no bucket, use --bucket-name", f.inventoryName)
	}

	c, err := newCloud(ctx)
	if err != nil {
		return nil, err
	}

	return &kubeconfig.Store{
		Client: c.objects,
		Bucket: bucket,
		Prefix: f.prefix,
		KeyARN: keyARN,
		Cipher: cipher,
	}, nil
}

// storeEntries returns the bucket name and the key ARN recorded in the inventory.
func storeEntries(inv *inventory.Inventory) (string, string, error) {
	var buckets, keys []inventory.Entry
	for _, e := range inv.Entries {
		id, err := e.ResourceID()
		if err != nil {
			return "", "", err
		}
		switch id.Kind {
		case resource.BucketKind:
			buckets = append(buckets, e)
		case resource.KeyKind:
			keys = append(keys, e)
		}
	}

	if len(buckets) > 1 {
		return "", "", fmt.Errorf("inventory %s has %d buckets, use --bucket-name", inv.Name, len(buckets))
	}
	if len(keys) > 1 {
		return "", "", fmt.Errorf("inventory %s has %d keys, use --kms-key-arn", inv.Name, len(keys))
	}

	var bucket, keyARN string
	if len(buckets) == 1 {
		bucket = buckets[0].Attribute(inventory.AttrBucketName)
		if bucket == "" {
			bucket = buckets[0].PhysicalID
		}
	}
	if len(keys) == 1 {
		keyARN = keys[0].ARN
	}
	return bucket, keyARN, nil
}
