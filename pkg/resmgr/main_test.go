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

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/stefanprodan/kcstore/pkg/inventory"
	"github.com/stefanprodan/kcstore/pkg/resource"
	"github.com/stefanprodan/kcstore/pkg/stack"
)

// fakeProvider keeps the live resources in memory. Bucket sub-resources are
// scoped to the physical bucket they were created for, so replacing a bucket
// leaves its dependents absent like it would in S3.
type fakeProvider struct {
	mu       sync.Mutex
	live     map[string]fakeResource
	calls    []string
	failOn   map[string]error
	notReady map[string]int
}

type fakeResource struct {
	spec  interface{}
	entry inventory.Entry
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		live:     map[string]fakeResource{},
		failOn:   map[string]error{},
		notReady: map[string]int{},
	}
}

func (p *fakeProvider) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) callsOf(verb string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []string
	for _, c := range p.calls {
		var v, id string
		fmt.Sscanf(c, "%s %s", &v, &id)
		if v == verb {
			result = append(result, id)
		}
	}
	return result
}

func specOf(res resource.Resource) (interface{}, error) {
	obj, err := resource.ToUnstructured(res)
	if err != nil {
		return nil, err
	}
	return obj.Object["spec"], nil
}

func (p *fakeProvider) physicalID(res resource.Resource, refs Resolver) (string, error) {
	if b, ok := res.(*resource.Bucket); ok {
		return b.Spec.BucketName, nil
	}
	for _, ref := range res.References() {
		if ref.Kind == resource.BucketKind {
			e, err := refs.Resolve(ref)
			if err != nil {
				return "", err
			}
			return e.PhysicalID, nil
		}
	}
	return "key-" + res.GetName(), nil
}

func (p *fakeProvider) Observe(ctx context.Context, res resource.Resource, refs Resolver) (*Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := res.ID().String()
	p.record("observe " + id)

	physicalID, err := p.physicalID(res, refs)
	if err != nil {
		return nil, err
	}
	live, ok := p.live[id]
	if !ok || (res.GetKind() != resource.BucketKind && live.entry.PhysicalID != physicalID) {
		return &Observation{Status: StatusAbsent}, nil
	}

	desired, err := specOf(res)
	if err != nil {
		return nil, err
	}
	if drift, diff := HasDrifted(desired, live.spec); drift {
		obs := &Observation{Status: StatusDiverged, Diff: diff, Entry: live.entry}
		if res.GetKind() == resource.BucketKind && live.entry.PhysicalID != physicalID {
			obs.Replace = true
		}
		return obs, nil
	}
	return &Observation{Status: StatusConverged, Entry: live.entry}, nil
}

func (p *fakeProvider) put(res resource.Resource, refs Resolver, verb string) (inventory.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := res.ID().String()
	p.record(verb + " " + id)

	if err, ok := p.failOn[verb+" "+id]; ok {
		return inventory.Entry{}, err
	}
	for _, ref := range res.References() {
		if _, err := refs.Resolve(ref); err != nil {
			return inventory.Entry{}, err
		}
	}
	physicalID, err := p.physicalID(res, refs)
	if err != nil {
		return inventory.Entry{}, err
	}
	spec, err := specOf(res)
	if err != nil {
		return inventory.Entry{}, err
	}
	entry := inventory.Entry{ID: id, PhysicalID: physicalID}
	p.live[id] = fakeResource{spec: spec, entry: entry}
	return entry, nil
}

func (p *fakeProvider) Create(ctx context.Context, res resource.Resource, refs Resolver) (inventory.Entry, error) {
	return p.put(res, refs, "create")
}

func (p *fakeProvider) Update(ctx context.Context, res resource.Resource, live inventory.Entry, refs Resolver) (inventory.Entry, error) {
	return p.put(res, refs, "update")
}

func (p *fakeProvider) Delete(ctx context.Context, entry inventory.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("delete " + entry.ID)

	if err, ok := p.failOn["delete "+entry.ID]; ok {
		return err
	}
	live, ok := p.live[entry.ID]
	if !ok || live.entry.PhysicalID != entry.PhysicalID {
		return ErrNotFound
	}
	delete(p.live, entry.ID)
	return nil
}

func (p *fakeProvider) Ready(ctx context.Context, entry inventory.Entry) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notReady[entry.ID] != 0 {
		if p.notReady[entry.ID] > 0 {
			p.notReady[entry.ID]--
		}
		return false, nil
	}
	return true, nil
}

func (p *fakeProvider) Exists(ctx context.Context, entry inventory.Entry) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.live[entry.ID]
	return ok, nil
}

func newTestSet(bucketName string) (*resource.Set, error) {
	return stack.Kubeconfig(stack.Options{
		BucketName: bucketName,
		BaseTags:   resource.Tags{"env": "test"},
	})
}

func subjects(cs *ChangeSet) []string {
	var result []string
	for _, e := range cs.Entries {
		result = append(result, e.Subject)
	}
	return result
}

func actions(cs *ChangeSet) map[string]string {
	result := map[string]string{}
	for _, e := range cs.Entries {
		result[e.Subject] = e.Action
	}
	return result
}

var applyOrder = []string{
	"Bucket/kubeconfigs",
	"Key/kubeconfigs",
	"BucketVersioning/kubeconfigs",
	"BucketACL/kubeconfigs",
	"BucketEncryption/kubeconfigs",
	"BucketPublicAccessBlock/kubeconfigs",
}

func diffStrings(want, got []string) string {
	return cmp.Diff(want, got)
}
