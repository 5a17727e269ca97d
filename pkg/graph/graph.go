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

package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCycle is returned when the graph contains a dependency cycle.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrUnknownNode is returned when an edge points to a node that was never added.
	ErrUnknownNode = errors.New("unknown node")
)

// LessFunc orders the nodes that belong to the same level.
type LessFunc func(a, b string) bool

// Graph is a directed acyclic graph of node IDs.
// An edge from A to B means that A depends on B.
type Graph struct {
	nodes map[string]struct{}
	deps  map[string]map[string]struct{}
	less  LessFunc
}

// New returns an empty graph that orders nodes inside a level with the given
// function, or lexically when less is nil.
func New(less LessFunc) *Graph {
	if less == nil {
		less = func(a, b string) bool { return a < b }
	}
	return &Graph{
		nodes: map[string]struct{}{},
		deps:  map[string]map[string]struct{}{},
		less:  less,
	}
}

// AddNode adds the node to the graph, adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

// AddEdge records that node depends on dependency.
func (g *Graph) AddEdge(node, dependency string) {
	g.AddNode(node)
	if g.deps[node] == nil {
		g.deps[node] = map[string]struct{}{}
	}
	g.deps[node][dependency] = struct{}{}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependencies returns the sorted direct dependencies of the given node.
func (g *Graph) Dependencies(node string) []string {
	var result []string
	for d := range g.deps[node] {
		result = append(result, d)
	}
	sort.Strings(result)
	return result
}

// Levels groups the nodes in dependency order. The first level contains
// the nodes without dependencies, every following level contains the nodes
// whose dependencies are all part of the previous levels.
func (g *Graph) Levels() ([][]string, error) {
	pending := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for node := range g.nodes {
		pending[node] = 0
	}
	for node, deps := range g.deps {
		for dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("%s depends on %s: %w", node, dep, ErrUnknownNode)
			}
			pending[node]++
			dependents[dep] = append(dependents[dep], node)
		}
	}

	var current []string
	for node, count := range pending {
		if count == 0 {
			current = append(current, node)
		}
	}

	var levels [][]string
	visited := 0
	for len(current) > 0 {
		sort.Slice(current, func(i, j int) bool { return g.less(current[i], current[j]) })
		levels = append(levels, current)
		visited += len(current)

		var next []string
		for _, node := range current {
			for _, dependent := range dependents[node] {
				pending[dependent]--
				if pending[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if visited != len(g.nodes) {
		var stuck []string
		for node, count := range pending {
			if count > 0 {
				stuck = append(stuck, node)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w between [%s]", ErrCycle, strings.Join(stuck, ", "))
	}

	return levels, nil
}

// TopologicalOrder returns the nodes ordered so that every node comes after its dependencies.
func (g *Graph) TopologicalOrder() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(g.nodes))
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, nil
}

// Reverse returns a copy of the levels in reverse order,
// used to delete dependents before their dependencies.
func Reverse(levels [][]string) [][]string {
	result := make([][]string, len(levels))
	for i, level := range levels {
		result[len(levels)-1-i] = append([]string(nil), level...)
	}
	return result
}
