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
	"github.com/stefanprodan/kcstore/pkg/resource"
)

// EntryOrder implements the Sort interface for inventory entries.
type EntryOrder []Entry

func (entries EntryOrder) Len() int {
	return len(entries)
}

func (entries EntryOrder) Swap(i, j int) {
	entries[i], entries[j] = entries[j], entries[i]
}

func (entries EntryOrder) Less(i, j int) bool {
	return resource.LessID(entries[i].ID, entries[j].ID)
}
