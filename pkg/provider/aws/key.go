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
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resmgr"
	"github.com/stefanprodan/kcstore/pkg/resource"
)

type keyStatus string

const (
	keyStateEnabled  keyStatus = "enabled"
	keyStateDisabled keyStatus = "disabled"
	keyStatePending  keyStatus = "pending"
	keyStateAbsent   keyStatus = "absent"
)

// keyConfig is the mutable part of a key compared on every observation.
type keyConfig struct {
	Description       string
	Tags              resource.Tags
	EnableKeyRotation bool
	Enabled           bool
}

// keyIdentity holds the fields that can only be set at creation.
type keyIdentity struct {
	KeyUsage string
	KeySpec  string
}

type liveKey struct {
	ID       string
	ARN      string
	State    keyStatus
	Identity keyIdentity
	Config   keyConfig
}

func desiredKeyConfig(k *resource.Key) keyConfig {
	return keyConfig{
		Description:       k.Spec.Description,
		Tags:              k.Spec.Tags,
		EnableKeyRotation: k.Spec.EnableKeyRotation,
		Enabled:           true,
	}
}

func desiredKeyIdentity(k *resource.Key) keyIdentity {
	return keyIdentity{KeyUsage: k.Spec.GetKeyUsage(), KeySpec: k.Spec.GetKeySpec()}
}

func keyEntry(k *resource.Key, id, arn string) inventory.Entry {
	return inventory.Entry{
		PhysicalID: id,
		ARN:        arn,
		Attributes: map[string]string{
			inventory.AttrDeletionWindowInDays: strconv.Itoa(int(k.Spec.GetDeletionWindowInDays())),
		},
	}
}

func mapKeyState(s kmstypes.KeyState) keyStatus {
	switch s {
	case kmstypes.KeyStateEnabled:
		return keyStateEnabled
	case kmstypes.KeyStatePendingDeletion, kmstypes.KeyStatePendingReplicaDeletion:
		return keyStatePending
	default:
		return keyStateDisabled
	}
}

func (p *Provider) keyState(ctx context.Context, keyID string) (keyStatus, error) {
	logCall(ctx, "kms:DescribeKey", keyID)
	out, err := p.KMS.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		if isKeyNotFound(err) {
			return keyStateAbsent, nil
		}
		return "", fmt.Errorf("AWS KMS describe key %s failed: %w", keyID, err)
	}
	state := mapKeyState(out.KeyMetadata.KeyState)
	if state == keyStatePending {
		return keyStateAbsent, nil
	}
	return state, nil
}

// describeKey returns the live key or nil when it doesn't exist or is pending deletion.
func (p *Provider) describeKey(ctx context.Context, keyID string) (*liveKey, error) {
	logCall(ctx, "kms:DescribeKey", keyID)
	out, err := p.KMS.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		if isKeyNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("AWS KMS describe key %s failed: %w", keyID, err)
	}

	meta := out.KeyMetadata
	key := &liveKey{
		ID:    aws.ToString(meta.KeyId),
		ARN:   aws.ToString(meta.Arn),
		State: mapKeyState(meta.KeyState),
		Identity: keyIdentity{
			KeyUsage: string(meta.KeyUsage),
			KeySpec:  string(meta.KeySpec),
		},
		Config: keyConfig{
			Description: aws.ToString(meta.Description),
			Enabled:     meta.Enabled,
		},
	}
	if key.State == keyStatePending {
		return nil, nil
	}

	key.Config.Tags, err = p.keyTags(ctx, key.ID)
	if err != nil {
		return nil, err
	}

	logCall(ctx, "kms:GetKeyRotationStatus", key.ID)
	rot, err := p.KMS.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{KeyId: aws.String(key.ID)})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS get key rotation status %s failed: %w", key.ID, err)
	}
	key.Config.EnableKeyRotation = rot.KeyRotationEnabled

	return key, nil
}

func (p *Provider) keyTags(ctx context.Context, keyID string) (resource.Tags, error) {
	tags := resource.Tags{}
	in := &kms.ListResourceTagsInput{KeyId: aws.String(keyID)}
	for {
		logCall(ctx, "kms:ListResourceTags", keyID)
		out, err := p.KMS.ListResourceTags(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("AWS KMS list resource tags %s failed: %w", keyID, err)
		}
		for _, t := range out.Tags {
			tags[aws.ToString(t.TagKey)] = aws.ToString(t.TagValue)
		}
		if !out.Truncated || out.NextMarker == nil {
			return tags, nil
		}
		in.Marker = out.NextMarker
	}
}

// observeKey looks up the key recorded in the inventory, keys have no
// user assigned name so an unrecorded key is absent.
func (p *Provider) observeKey(ctx context.Context, k *resource.Key, refs resmgr.Resolver) (*resmgr.Observation, error) {
	recorded, err := refs.Resolve(k.ID())
	if err != nil {
		if errors.Is(err, resmgr.ErrReferenceNotFound) {
			return absent(), nil
		}
		return nil, err
	}
	if recorded.PhysicalID == "" {
		return absent(), nil
	}

	live, err := p.describeKey(ctx, recorded.PhysicalID)
	if err != nil {
		return nil, err
	}
	if live == nil {
		return absent(), nil
	}

	obs := &resmgr.Observation{
		Status: resmgr.StatusConverged,
		Entry:  keyEntry(k, live.ID, live.ARN),
	}

	if drift, d := diff(desiredKeyIdentity(k), live.Identity); drift {
		obs.Status = resmgr.StatusDiverged
		obs.Replace = true
		obs.Diff = d
		// the replaced key is scheduled for deletion with the recorded window
		obs.Entry = recorded
		return obs, nil
	}

	if drift, d := diff(desiredKeyConfig(k), live.Config); drift {
		obs.Status = resmgr.StatusDiverged
		obs.Diff = d
	}
	return obs, nil
}

func (p *Provider) createKey(ctx context.Context, k *resource.Key) (inventory.Entry, error) {
	in := &kms.CreateKeyInput{
		Description: aws.String(k.Spec.Description),
		KeyUsage:    kmstypes.KeyUsageType(k.Spec.GetKeyUsage()),
		KeySpec:     kmstypes.KeySpec(k.Spec.GetKeySpec()),
	}
	for _, key := range k.Spec.Tags.Keys() {
		in.Tags = append(in.Tags, kmstypes.Tag{
			TagKey:   aws.String(key),
			TagValue: aws.String(k.Spec.Tags[key]),
		})
	}

	logCall(ctx, "kms:CreateKey", k.ID().String())
	out, err := p.KMS.CreateKey(ctx, in)
	if err != nil {
		return inventory.Entry{}, fmt.Errorf("AWS KMS create key failed: %w", err)
	}

	keyID := aws.ToString(out.KeyMetadata.KeyId)
	if k.Spec.EnableKeyRotation {
		if err := p.setKeyRotation(ctx, keyID, true); err != nil {
			return inventory.Entry{}, err
		}
	}

	return keyEntry(k, keyID, aws.ToString(out.KeyMetadata.Arn)), nil
}

func (p *Provider) updateKey(ctx context.Context, k *resource.Key, entry inventory.Entry) (inventory.Entry, error) {
	live, err := p.describeKey(ctx, entry.PhysicalID)
	if err != nil {
		return inventory.Entry{}, err
	}
	if live == nil {
		return inventory.Entry{}, fmt.Errorf("key %s: %w", entry.PhysicalID, resmgr.ErrNotFound)
	}

	desired := desiredKeyConfig(k)

	if !live.Config.Enabled {
		logCall(ctx, "kms:EnableKey", live.ID)
		if _, err := p.KMS.EnableKey(ctx, &kms.EnableKeyInput{KeyId: aws.String(live.ID)}); err != nil {
			return inventory.Entry{}, fmt.Errorf("AWS KMS enable key %s failed: %w", live.ID, err)
		}
	}

	if live.Config.Description != desired.Description {
		logCall(ctx, "kms:UpdateKeyDescription", live.ID)
		_, err := p.KMS.UpdateKeyDescription(ctx, &kms.UpdateKeyDescriptionInput{
			KeyId:       aws.String(live.ID),
			Description: aws.String(desired.Description),
		})
		if err != nil {
			return inventory.Entry{}, fmt.Errorf("AWS KMS update key description %s failed: %w", live.ID, err)
		}
	}

	if err := p.reconcileKeyTags(ctx, live.ID, desired.Tags, live.Config.Tags); err != nil {
		return inventory.Entry{}, err
	}

	if live.Config.EnableKeyRotation != desired.EnableKeyRotation {
		if err := p.setKeyRotation(ctx, live.ID, desired.EnableKeyRotation); err != nil {
			return inventory.Entry{}, err
		}
	}

	return keyEntry(k, live.ID, live.ARN), nil
}

func (p *Provider) reconcileKeyTags(ctx context.Context, keyID string, desired, live resource.Tags) error {
	var removed []string
	for _, k := range live.Keys() {
		if _, ok := desired[k]; !ok {
			removed = append(removed, k)
		}
	}
	if len(removed) > 0 {
		logCall(ctx, "kms:UntagResource", keyID)
		_, err := p.KMS.UntagResource(ctx, &kms.UntagResourceInput{KeyId: aws.String(keyID), TagKeys: removed})
		if err != nil {
			return fmt.Errorf("AWS KMS untag key %s failed: %w", keyID, err)
		}
	}

	var changed []kmstypes.Tag
	for _, k := range desired.Keys() {
		if v, ok := live[k]; !ok || v != desired[k] {
			changed = append(changed, kmstypes.Tag{TagKey: aws.String(k), TagValue: aws.String(desired[k])})
		}
	}
	if len(changed) > 0 {
		logCall(ctx, "kms:TagResource", keyID)
		_, err := p.KMS.TagResource(ctx, &kms.TagResourceInput{KeyId: aws.String(keyID), Tags: changed})
		if err != nil {
			return fmt.Errorf("AWS KMS tag key %s failed: %w", keyID, err)
		}
	}
	return nil
}

func (p *Provider) setKeyRotation(ctx context.Context, keyID string, enabled bool) error {
	if enabled {
		logCall(ctx, "kms:EnableKeyRotation", keyID)
		if _, err := p.KMS.EnableKeyRotation(ctx, &kms.EnableKeyRotationInput{KeyId: aws.String(keyID)}); err != nil {
			return fmt.Errorf("AWS KMS enable key rotation %s failed: %w", keyID, err)
		}
		return nil
	}
	logCall(ctx, "kms:DisableKeyRotation", keyID)
	if _, err := p.KMS.DisableKeyRotation(ctx, &kms.DisableKeyRotationInput{KeyId: aws.String(keyID)}); err != nil {
		return fmt.Errorf("AWS KMS disable key rotation %s failed: %w", keyID, err)
	}
	return nil
}

// deleteKey schedules the key deletion, KMS doesn't delete keys immediately.
func (p *Provider) deleteKey(ctx context.Context, entry inventory.Entry) error {
	window := resource.DefaultDeletionWindowInDays
	if v, err := strconv.Atoi(entry.Attribute(inventory.AttrDeletionWindowInDays)); err == nil {
		window = v
	}
	if window < resource.MinDeletionWindowInDays {
		window = resource.MinDeletionWindowInDays
	}
	if window > resource.MaxDeletionWindowInDays {
		window = resource.MaxDeletionWindowInDays
	}

	logCall(ctx, "kms:ScheduleKeyDeletion", entry.PhysicalID)
	_, err := p.KMS.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               aws.String(entry.PhysicalID),
		PendingWindowInDays: aws.Int32(int32(window)),
	})
	if err != nil {
		if isKeyNotFound(err) || hasCode(err, codeKMSInvalidState) {
			return resmgr.ErrNotFound
		}
		return fmt.Errorf("AWS KMS schedule key deletion %s failed: %w", entry.PhysicalID, err)
	}
	return nil
}
