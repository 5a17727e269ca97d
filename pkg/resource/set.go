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

	"github.com/stefanprodan/kcstore/pkg/graph"
)

// Set is an ordered collection of resources with unique identifiers.
type Set struct {
	items []Resource
	index map[ID]Resource
}

func NewSet(items ...Resource) (*Set, error) {
	s := &Set{index: map[ID]Resource{}}
	for _, item := range items {
		if err := s.Add(item); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends the resource, an identifier can be added only once.
func (s *Set) Add(r Resource) error {
	if s.index == nil {
		s.index = map[ID]Resource{}
	}
	id := r.ID()
	if _, ok := s.index[id]; ok {
		return fmt.Errorf("%s is declared more than once: %w", id, ErrInvalid)
	}
	s.items = append(s.items, r)
	s.index[id] = r
	return nil
}

func (s *Set) Get(id ID) (Resource, bool) {
	r, ok := s.index[id]
	return r, ok
}

// Items returns the resources in insertion order.
func (s *Set) Items() []Resource {
	return append([]Resource(nil), s.items...)
}

func (s *Set) Len() int {
	return len(s.items)
}

func (s *Set) IDs() []ID {
	ids := make([]ID, 0, len(s.items))
	for _, r := range s.items {
		ids = append(ids, r.ID())
	}
	return ids
}

// Validate checks every resource and the references between them.
func (s *Set) Validate() error {
	for _, r := range s.items {
		if err := r.Validate(); err != nil {
			return err
		}
		for _, ref := range r.References() {
			target, ok := s.index[ref]
			if !ok {
				return fmt.Errorf("%s references %s which is not declared: %w", r.ID(), ref, ErrInvalid)
			}
			if key, ok := target.(*Key); ok && r.GetKind() == BucketEncryptionKind {
				if !key.Spec.IsSymmetricEncryption() {
					return fmt.Errorf("%s references %s which is not a symmetric encryption key: %w",
						r.ID(), ref, ErrInvalid)
				}
			}
		}
	}
	if _, err := s.Graph().Levels(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Graph returns the dependency graph of the set, nodes inside a level
// are ordered by kind then name.
func (s *Set) Graph() *graph.Graph {
	dag := graph.New(LessID)
	for _, r := range s.items {
		dag.AddNode(r.ID().String())
		for _, ref := range r.References() {
			dag.AddEdge(r.ID().String(), ref.String())
		}
	}
	return dag
}

// Levels returns the resources grouped in apply order.
func (s *Set) Levels() ([][]Resource, error) {
	levels, err := s.Graph().Levels()
	if err != nil {
		return nil, err
	}
	result := make([][]Resource, 0, len(levels))
	for _, level := range levels {
		items := make([]Resource, 0, len(level))
		for _, node := range level {
			id, err := ParseID(node)
			if err != nil {
				return nil, err
			}
			r, ok := s.index[id]
			if !ok {
				return nil, fmt.Errorf("%s is referenced but not declared: %w", id, ErrInvalid)
			}
			items = append(items, r)
		}
		result = append(result, items)
	}
	return result, nil
}

// RankOfKind returns the position of the kind in the apply order,
// unknown kinds come last.
func RankOfKind(kind Kind) int {
	for i, k := range Kinds {
		if k == kind {
			return i
		}
	}
	return len(Kinds)
}

// LessID orders two 'Kind/name' identifiers by kind rank then name.
func LessID(a, b string) bool {
	ia, erra := ParseID(a)
	ib, errb := ParseID(b)
	if erra != nil || errb != nil {
		return a < b
	}
	ra, rb := RankOfKind(ia.Kind), RankOfKind(ib.Kind)
	if ra != rb {
		return ra < rb
	}
	return ia.Name < ib.Name
}
