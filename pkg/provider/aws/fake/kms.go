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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// Key holds the state of a fake KMS key.
type Key struct {
	ID                  string
	ARN                 string
	Description         string
	KeyUsage            kmstypes.KeyUsageType
	KeySpec             kmstypes.KeySpec
	State               kmstypes.KeyState
	Tags                map[string]string
	RotationEnabled     bool
	PendingWindowInDays int32
	DeletionDate        time.Time
}

// KMS is an in-memory KMS client.
type KMS struct {
	mu sync.Mutex

	Region  string
	Account string
	Keys    map[string]*Key

	// Failures maps an operation name to the error returned by that operation.
	Failures map[string]error

	calls []string
	seq   int
	now   func() time.Time
}

func NewKMS(region, account string) *KMS {
	return &KMS{
		Region:   region,
		Account:  account,
		Keys:     map[string]*Key{},
		Failures: map[string]error{},
		now:      time.Now,
	}
}

func (f *KMS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *KMS) CallsOf(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (f *KMS) record(op string) error {
	f.calls = append(f.calls, op)
	if err, ok := f.Failures[op]; ok {
		return err
	}
	return nil
}

// key finds a key by ID or ARN.
func (f *KMS) key(id *string) (*Key, error) {
	v := aws.ToString(id)
	if i := strings.LastIndex(v, ":key/"); i >= 0 {
		v = v[i+len(":key/"):]
	}
	k, ok := f.Keys[v]
	if !ok {
		return nil, &kmstypes.NotFoundException{Message: aws.String(fmt.Sprintf("Key '%s' does not exist", aws.ToString(id)))}
	}
	return k, nil
}

func (f *KMS) usable(k *Key) error {
	if k.State == kmstypes.KeyStatePendingDeletion {
		return &kmstypes.KMSInvalidStateException{Message: aws.String(fmt.Sprintf("%s is pending deletion", k.ARN))}
	}
	return nil
}

func (f *KMS) metadata(k *Key) *kmstypes.KeyMetadata {
	m := &kmstypes.KeyMetadata{
		KeyId:        aws.String(k.ID),
		Arn:          aws.String(k.ARN),
		AWSAccountId: aws.String(f.Account),
		Description:  aws.String(k.Description),
		KeyUsage:     k.KeyUsage,
		KeySpec:      k.KeySpec,
		KeyState:     k.State,
		Enabled:      k.State == kmstypes.KeyStateEnabled,
		KeyManager:   kmstypes.KeyManagerTypeCustomer,
	}
	if !k.DeletionDate.IsZero() {
		m.DeletionDate = aws.Time(k.DeletionDate)
		m.PendingDeletionWindowInDays = aws.Int32(k.PendingWindowInDays)
	}
	return m
}

func (f *KMS) CreateKey(_ context.Context, in *kms.CreateKeyInput, _ ...func(*kms.Options)) (*kms.CreateKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateKey"); err != nil {
		return nil, err
	}

	f.seq++
	id := fmt.Sprintf("%08d-0000-4000-8000-%012d", f.seq, f.seq)
	k := &Key{
		ID:          id,
		ARN:         fmt.Sprintf("arn:aws:kms:%s:%s:key/%s", f.Region, f.Account, id),
		Description: aws.ToString(in.Description),
		KeyUsage:    in.KeyUsage,
		KeySpec:     in.KeySpec,
		State:       kmstypes.KeyStateEnabled,
		Tags:        map[string]string{},
	}
	if k.KeyUsage == "" {
		k.KeyUsage = kmstypes.KeyUsageTypeEncryptDecrypt
	}
	if k.KeySpec == "" {
		k.KeySpec = kmstypes.KeySpecSymmetricDefault
	}
	for _, t := range in.Tags {
		k.Tags[aws.ToString(t.TagKey)] = aws.ToString(t.TagValue)
	}
	f.Keys[id] = k
	return &kms.CreateKeyOutput{KeyMetadata: f.metadata(k)}, nil
}

func (f *KMS) DescribeKey(_ context.Context, in *kms.DescribeKeyInput, _ ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DescribeKey"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	return &kms.DescribeKeyOutput{KeyMetadata: f.metadata(k)}, nil
}

func (f *KMS) EnableKey(_ context.Context, in *kms.EnableKeyInput, _ ...func(*kms.Options)) (*kms.EnableKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnableKey"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	if err := f.usable(k); err != nil {
		return nil, err
	}
	k.State = kmstypes.KeyStateEnabled
	return &kms.EnableKeyOutput{}, nil
}

// DisableKey is not used by the provider, tests call it to simulate drift.
func (f *KMS) DisableKey(_ context.Context, in *kms.DisableKeyInput, _ ...func(*kms.Options)) (*kms.DisableKeyOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DisableKey"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	if err := f.usable(k); err != nil {
		return nil, err
	}
	k.State = kmstypes.KeyStateDisabled
	return &kms.DisableKeyOutput{}, nil
}

func (f *KMS) UpdateKeyDescription(_ context.Context, in *kms.UpdateKeyDescriptionInput, _ ...func(*kms.Options)) (*kms.UpdateKeyDescriptionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateKeyDescription"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	if err := f.usable(k); err != nil {
		return nil, err
	}
	k.Description = aws.ToString(in.Description)
	return &kms.UpdateKeyDescriptionOutput{}, nil
}

func (f *KMS) ListResourceTags(_ context.Context, in *kms.ListResourceTagsInput, _ ...func(*kms.Options)) (*kms.ListResourceTagsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListResourceTags"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(k.Tags))
	for t := range k.Tags {
		keys = append(keys, t)
	}
	sort.Strings(keys)
	out := &kms.ListResourceTagsOutput{}
	for _, t := range keys {
		out.Tags = append(out.Tags, kmstypes.Tag{TagKey: aws.String(t), TagValue: aws.String(k.Tags[t])})
	}
	return out, nil
}

func (f *KMS) TagResource(_ context.Context, in *kms.TagResourceInput, _ ...func(*kms.Options)) (*kms.TagResourceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TagResource"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	for _, t := range in.Tags {
		k.Tags[aws.ToString(t.TagKey)] = aws.ToString(t.TagValue)
	}
	return &kms.TagResourceOutput{}, nil
}

func (f *KMS) UntagResource(_ context.Context, in *kms.UntagResourceInput, _ ...func(*kms.Options)) (*kms.UntagResourceOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UntagResource"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	for _, t := range in.TagKeys {
		delete(k.Tags, t)
	}
	return &kms.UntagResourceOutput{}, nil
}

func (f *KMS) GetKeyRotationStatus(_ context.Context, in *kms.GetKeyRotationStatusInput, _ ...func(*kms.Options)) (*kms.GetKeyRotationStatusOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetKeyRotationStatus"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	return &kms.GetKeyRotationStatusOutput{KeyId: aws.String(k.ID), KeyRotationEnabled: k.RotationEnabled}, nil
}

func (f *KMS) EnableKeyRotation(_ context.Context, in *kms.EnableKeyRotationInput, _ ...func(*kms.Options)) (*kms.EnableKeyRotationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EnableKeyRotation"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	if err := f.usable(k); err != nil {
		return nil, err
	}
	k.RotationEnabled = true
	return &kms.EnableKeyRotationOutput{}, nil
}

func (f *KMS) DisableKeyRotation(_ context.Context, in *kms.DisableKeyRotationInput, _ ...func(*kms.Options)) (*kms.DisableKeyRotationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DisableKeyRotation"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	if err := f.usable(k); err != nil {
		return nil, err
	}
	k.RotationEnabled = false
	return &kms.DisableKeyRotationOutput{}, nil
}

func (f *KMS) ScheduleKeyDeletion(_ context.Context, in *kms.ScheduleKeyDeletionInput, _ ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ScheduleKeyDeletion"); err != nil {
		return nil, err
	}

	k, err := f.key(in.KeyId)
	if err != nil {
		return nil, err
	}
	if err := f.usable(k); err != nil {
		return nil, err
	}
	window := aws.ToInt32(in.PendingWindowInDays)
	if window == 0 {
		window = 30
	}
	if window < 7 || window > 30 {
		return nil, apiError("ValidationException", "PendingWindowInDays %d is out of range", window)
	}
	k.State = kmstypes.KeyStatePendingDeletion
	k.PendingWindowInDays = window
	k.DeletionDate = f.now().AddDate(0, 0, int(window))

	return &kms.ScheduleKeyDeletionOutput{
		KeyId:               aws.String(k.ARN),
		KeyState:            k.State,
		DeletionDate:        aws.Time(k.DeletionDate),
		PendingWindowInDays: aws.Int32(window),
	}, nil
}
