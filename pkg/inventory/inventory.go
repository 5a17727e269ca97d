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

package inventory

import (
	"sort"
	"time"

	"github.com/stefanprodan/kcstore/pkg/resource"
)

// Well-known entry attributes.
const (
	AttrBucketName           = "bucketName"
	AttrForceDestroy         = "forceDestroy"
	AttrDeletionWindowInDays = "deletionWindowInDays"
	AttrRegion               = "region"
)

// Entry records a cloud resource created by the reconciler.
type Entry struct {
	// ID is the 'Kind/name' identifier of the declaration.
	ID string `json:"id"`

	// PhysicalID is the provider identifier, the bucket name or the key ID.
	PhysicalID string `json:"physicalID"`

	// +optional
	ARN string `json:"arn,omitempty"`

	// Attributes hold the values needed to delete the resource after its
	// declaration has been removed.
	// +optional
	Attributes map[string]string `json:"attributes,omitempty"`

	// Dependencies are the 'Kind/name' identifiers this resource depends on.
	// +optional
	Dependencies []string `json:"dependencies,omitempty"`
}

// ResourceID parses the entry identifier.
func (e Entry) ResourceID() (resource.ID, error) {
	return resource.ParseID(e.ID)
}

// Attribute returns the value of the given attribute or an empty string.
func (e Entry) Attribute(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Inventory is a record of the cloud resources applied from a declaration.
type Inventory struct {
	// Name of the inventory.
	Name string `json:"name"`

	// Source is the URL or path of the declaration.
	// +optional
	Source string `json:"source,omitempty"`

	// Revision is the version of the declaration.
	// +optional
	Revision string `json:"revision,omitempty"`

	// LastAppliedTime is the RFC3339 timestamp of the last apply.
	// +optional
	LastAppliedTime string `json:"lastAppliedTime,omitempty"`

	// Entries of applied resources sorted in apply order.
	Entries []Entry `json:"entries"`
}

func NewInventory(name string) *Inventory {
	return &Inventory{
		Name:    name,
		Entries: []Entry{},
	}
}

// Get returns the entry with the given 'Kind/name' identifier.
func (inv *Inventory) Get(id string) (Entry, bool) {
	for _, e := range inv.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Set adds or replaces the entry and keeps the entries in apply order.
func (inv *Inventory) Set(entry Entry) {
	for i, e := range inv.Entries {
		if e.ID == entry.ID {
			inv.Entries[i] = entry
			return
		}
	}
	inv.Entries = append(inv.Entries, entry)
	sort.Sort(EntryOrder(inv.Entries))
}

// Remove deletes the entry with the given identifier, if present.
func (inv *Inventory) Remove(id string) {
	for i, e := range inv.Entries {
		if e.ID == id {
			inv.Entries = append(inv.Entries[:i], inv.Entries[i+1:]...)
			return
		}
	}
}

// IDs returns the identifiers of all entries.
func (inv *Inventory) IDs() []string {
	ids := make([]string, 0, len(inv.Entries))
	for _, e := range inv.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Diff returns the entries that do not exist in the target inventory.
func (inv *Inventory) Diff(target *Inventory) []Entry {
	entries := make([]Entry, 0)
	for _, e := range inv.Entries {
		if _, ok := target.Get(e.ID); !ok {
			entries = append(entries, e)
		}
	}
	sort.Sort(EntryOrder(entries))
	return entries
}

// DiffSet returns the entries whose declaration is not part of the given set.
func (inv *Inventory) DiffSet(set *resource.Set) []Entry {
	target := NewInventory(inv.Name)
	for _, id := range set.IDs() {
		target.Entries = append(target.Entries, Entry{ID: id.String()})
	}
	return inv.Diff(target)
}

// SetLastAppliedTime stamps the inventory with the given time in UTC.
func (inv *Inventory) SetLastAppliedTime(t time.Time) {
	inv.LastAppliedTime = t.UTC().Format(time.RFC3339)
}

// DeepCopy returns a copy of the inventory that shares no maps or slices.
func (inv *Inventory) DeepCopy() *Inventory {
	out := *inv
	out.Entries = make([]Entry, 0, len(inv.Entries))
	for _, e := range inv.Entries {
		c := e
		if e.Attributes != nil {
			c.Attributes = make(map[string]string, len(e.Attributes))
			for k, v := range e.Attributes {
				c.Attributes[k] = v
			}
		}
		c.Dependencies = append([]string(nil), e.Dependencies...)
		out.Entries = append(out.Entries, c)
	}
	return &out
}
