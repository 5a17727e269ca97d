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
	"sort"
	"strings"
)

// NameTag is the tag key holding the human readable name of a resource.
const NameTag = "Name"

// Tags holds the key/value labels attached to a cloud resource.
type Tags map[string]string

// MergeTags returns a new map holding the base tags overlaid by each of the
// overrides in turn, later maps win on key collision.
func MergeTags(base Tags, overrides ...Tags) Tags {
	result := make(Tags, len(base))
	for k, v := range base {
		result[k] = v
	}
	for _, o := range overrides {
		for k, v := range o {
			result[k] = v
		}
	}
	return result
}

// ParseTags converts a list of 'key=value' pairs to tags.
func ParseTags(pairs []string) (Tags, error) {
	tags := Tags{}
	for _, p := range pairs {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("tag %q is not in the format 'key=value'", p)
		}
		tags[kv[0]] = kv[1]
	}
	return tags, nil
}

// Keys returns the sorted tag keys.
func (t Tags) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal treats nil and empty maps as equal.
func (t Tags) Equal(other Tags) bool {
	if len(t) != len(other) {
		return false
	}
	for k, v := range t {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (t Tags) String() string {
	pairs := make([]string, 0, len(t))
	for _, k := range t.Keys() {
		pairs = append(pairs, k+"="+t[k])
	}
	return strings.Join(pairs, ",")
}

// Validate enforces the AWS tag limits shared by S3 and KMS.
func (t Tags) Validate(id ID) error {
	if len(t) > 50 {
		return invalid(id, "tags", "has %d entries, at most 50 are allowed", len(t))
	}
	for _, k := range t.Keys() {
		if len(k) > 128 {
			return invalid(id, "tags", "key %q exceeds 128 characters", k)
		}
		if strings.HasPrefix(strings.ToLower(k), "aws:") {
			return invalid(id, "tags", "key %q uses the reserved aws: prefix", k)
		}
		if len(t[k]) > 256 {
			return invalid(id, "tags", "value of %q exceeds 256 characters", k)
		}
	}
	return nil
}
