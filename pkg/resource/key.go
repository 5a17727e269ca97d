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

package resource

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	MinDeletionWindowInDays     = 7
	MaxDeletionWindowInDays     = 30
	DefaultDeletionWindowInDays = 30

	KeyUsageEncryptDecrypt  = "ENCRYPT_DECRYPT"
	KeySpecSymmetricDefault = "SYMMETRIC_DEFAULT"
)

// Key declares a customer managed KMS key.
type Key struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec KeySpec `json:"spec"`
}

type KeySpec struct {
	// +optional
	Description string `json:"description,omitempty"`

	// +optional
	Tags Tags `json:"tags,omitempty"`

	// DeletionWindowInDays is the waiting period before KMS deletes the key.
	// Defaults to 30.
	// +optional
	DeletionWindowInDays int32 `json:"deletionWindowInDays,omitempty"`

	// +optional
	EnableKeyRotation bool `json:"enableKeyRotation,omitempty"`

	// KeyUsage defaults to ENCRYPT_DECRYPT. Changing it replaces the key.
	// +optional
	KeyUsage string `json:"keyUsage,omitempty"`

	// KeySpec defaults to SYMMETRIC_DEFAULT. Changing it replaces the key.
	// +optional
	KeySpec string `json:"keySpec,omitempty"`
}

func (s KeySpec) GetDeletionWindowInDays() int32 {
	if s.DeletionWindowInDays == 0 {
		return DefaultDeletionWindowInDays
	}
	return s.DeletionWindowInDays
}

func (s KeySpec) GetKeyUsage() string {
	if s.KeyUsage == "" {
		return KeyUsageEncryptDecrypt
	}
	return s.KeyUsage
}

func (s KeySpec) GetKeySpec() string {
	if s.KeySpec == "" {
		return KeySpecSymmetricDefault
	}
	return s.KeySpec
}

// IsSymmetricEncryption reports whether the key can be used for S3 server-side encryption.
func (s KeySpec) IsSymmetricEncryption() bool {
	return s.GetKeyUsage() == KeyUsageEncryptDecrypt && s.GetKeySpec() == KeySpecSymmetricDefault
}

func NewKey(name string, spec KeySpec) *Key {
	return &Key{
		TypeMeta:   newTypeMeta(KeyKind),
		ObjectMeta: newObjectMeta(name),
		Spec:       spec,
	}
}

func (r *Key) GetKind() Kind     { return KeyKind }
func (r *Key) ID() ID            { return ID{Kind: KeyKind, Name: r.Name} }
func (r *Key) References() []ID { return nil }

func (r *Key) Validate() error {
	w := r.Spec.GetDeletionWindowInDays()
	if w < MinDeletionWindowInDays || w > MaxDeletionWindowInDays {
		return invalid(r.ID(), "deletionWindowInDays", "%d must be between %d and %d",
			w, MinDeletionWindowInDays, MaxDeletionWindowInDays)
	}
	if len(r.Spec.Description) > 8192 {
		return invalid(r.ID(), "description", "exceeds 8192 characters")
	}
	return r.Spec.Tags.Validate(r.ID())
}
