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
	"fmt"
	"io"

	"github.com/fluxcd/pkg/ssa"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

// ReadObjects decodes the YAML or JSON documents from the given reader into resources.
// Documents of other API groups are ignored.
func ReadObjects(r io.Reader) ([]Resource, error) {
	objects, err := ssa.ReadObjects(r)
	if err != nil {
		return nil, err
	}

	result := make([]Resource, 0, len(objects))
	for _, obj := range objects {
		if obj.GroupVersionKind().Group != Group {
			continue
		}
		res, err := FromUnstructured(obj)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, nil
}

// FromUnstructured converts the object to the typed resource matching its kind.
func FromUnstructured(obj *unstructured.Unstructured) (Resource, error) {
	if obj.GetAPIVersion() != APIVersion {
		return nil, fmt.Errorf("%s/%s apiVersion %q is not supported, expected %s",
			obj.GetKind(), obj.GetName(), obj.GetAPIVersion(), APIVersion)
	}

	var res Resource
	switch Kind(obj.GetKind()) {
	case BucketKind:
		res = &Bucket{}
	case BucketVersioningKind:
		res = &BucketVersioning{}
	case BucketACLKind:
		res = &BucketACL{}
	case KeyKind:
		res = &Key{}
	case BucketEncryptionKind:
		res = &BucketEncryption{}
	case BucketPublicAccessBlockKind:
		res = &BucketPublicAccessBlock{}
	default:
		return nil, fmt.Errorf("kind %q is not supported", obj.GetKind())
	}

	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, res); err != nil {
		return nil, fmt.Errorf("%s/%s decoding failed: %w", obj.GetKind(), obj.GetName(), err)
	}
	return res, nil
}

// ToUnstructured converts the resource to an unstructured object without empty metadata fields.
func ToUnstructured(res Resource) (*unstructured.Unstructured, error) {
	data, err := runtime.DefaultUnstructuredConverter.ToUnstructured(res)
	if err != nil {
		return nil, fmt.Errorf("%s encoding failed: %w", res.ID(), err)
	}
	obj := &unstructured.Unstructured{Object: data}
	unstructured.RemoveNestedField(obj.Object, "metadata", "creationTimestamp")
	return obj, nil
}

// ToUnstructuredList converts the resources to unstructured objects.
func ToUnstructuredList(resources []Resource) ([]*unstructured.Unstructured, error) {
	objects := make([]*unstructured.Unstructured, 0, len(resources))
	for _, res := range resources {
		obj, err := ToUnstructured(res)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// ObjectsToYAML encodes the given resources to a YAML multi-doc.
func ObjectsToYAML(resources []Resource) (string, error) {
	objects, err := ToUnstructuredList(resources)
	if err != nil {
		return "", err
	}
	return ssa.ObjectsToYAML(objects)
}

// ObjectsToJSON encodes the given resources to a JSON list.
func ObjectsToJSON(resources []Resource) (string, error) {
	objects, err := ToUnstructuredList(resources)
	if err != nil {
		return "", err
	}
	return ssa.ObjectsToJSON(objects)
}
