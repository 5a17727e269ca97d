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
	"errors"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	Group      = "kcstore.dev"
	Version    = "v1alpha1"
	APIVersion = Group + "/" + Version
)

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("invalid resource")

// Kind identifies the type of cloud resource a record declares.
type Kind string

const (
	BucketKind                  Kind = "Bucket"
	BucketVersioningKind        Kind = "BucketVersioning"
	BucketACLKind               Kind = "BucketACL"
	KeyKind                     Kind = "Key"
	BucketEncryptionKind        Kind = "BucketEncryption"
	BucketPublicAccessBlockKind Kind = "BucketPublicAccessBlock"
)

// Kinds lists the supported kinds in apply order.
var Kinds = []Kind{
	BucketKind,
	KeyKind,
	BucketVersioningKind,
	BucketACLKind,
	BucketEncryptionKind,
	BucketPublicAccessBlockKind,
}

// ID is the logical identifier of a resource in the format 'Kind/name'.
type ID struct {
	Kind Kind
	Name string
}

func (id ID) String() string {
	return string(id.Kind) + "/" + id.Name
}

// ParseID parses an identifier in the format 'Kind/name'.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ID{}, fmt.Errorf("%q is not in the format 'Kind/name'", s)
	}
	return ID{Kind: Kind(parts[0]), Name: parts[1]}, nil
}

// LocalRef points to another resource of the same declaration by name.
type LocalRef struct {
	Name string `json:"name"`
}

// Resource is a desired-state record.
type Resource interface {
	// GetName returns the logical name of the record.
	GetName() string
	// GetKind returns the resource kind.
	GetKind() Kind
	// ID returns the 'Kind/name' identifier.
	ID() ID
	// References returns the identifiers of the resources this record depends on.
	References() []ID
	// Validate checks the spec fields.
	Validate() error
}

func newTypeMeta(kind Kind) metav1.TypeMeta {
	return metav1.TypeMeta{
		APIVersion: APIVersion,
		Kind:       string(kind),
	}
}

func newObjectMeta(name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{Name: name}
}

func invalid(id ID, field, format string, a ...interface{}) error {
	return fmt.Errorf("%s spec.%s %s: %w", id, field, fmt.Sprintf(format, a...), ErrInvalid)
}

func validateRef(id ID, field string, ref LocalRef) error {
	if ref.Name == "" {
		return invalid(id, field, "is required")
	}
	return nil
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
