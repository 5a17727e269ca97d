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

package resmgr

import "fmt"

// Action represents the action type performed by the reconciliation process.
type Action string

const (
	CreatedAction    Action = "created"
	ConfiguredAction Action = "configured"
	ReplacedAction   Action = "replaced"
	UnchangedAction  Action = "unchanged"
	DeletedAction    Action = "deleted"
)

// ChangeSet holds the result of the reconciliation of a resource collection.
type ChangeSet struct {
	Entries []ChangeSetEntry
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{Entries: []ChangeSetEntry{}}
}

func (c *ChangeSet) Add(e ChangeSetEntry) {
	c.Entries = append(c.Entries, e)
}

func (c *ChangeSet) AddAll(e []ChangeSetEntry) {
	c.Entries = append(c.Entries, e...)
}

// Get returns the entry for the given subject.
func (c *ChangeSet) Get(subject string) (ChangeSetEntry, bool) {
	for _, e := range c.Entries {
		if e.Subject == subject {
			return e, true
		}
	}
	return ChangeSetEntry{}, false
}

// HasChanges reports whether any entry has an action other than unchanged.
func (c *ChangeSet) HasChanges() bool {
	for _, e := range c.Entries {
		if e.Action != string(UnchangedAction) {
			return true
		}
	}
	return false
}

func (c *ChangeSet) String() string {
	var b []byte
	for _, e := range c.Entries {
		b = append(b, e.String()...)
		b = append(b, '\n')
	}
	return string(b)
}

// ChangeSetEntry defines the result of an action performed on a resource.
type ChangeSetEntry struct {
	// Subject represents the resource ID in the format 'Kind/name'.
	Subject string
	// Action represents the action type taken by the reconciler for this resource.
	Action string
	// Diff contains the desired versus live state diff.
	Diff string
}

func (e ChangeSetEntry) String() string {
	return fmt.Sprintf("%s %s", e.Subject, e.Action)
}
