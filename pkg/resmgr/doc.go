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

// Package resmgr reconciles cloud resource declarations.
//
// The ResourceManager performs the following actions:
// - orders the resources for apply using their dependency graph (buckets and keys first)
// - observes the live state of each resource through a Provider
// - determines if the live resources are absent, diverged or converged
// - creates, updates or replaces the resources that are not converged
// - waits for buckets and keys to become ready
// - deletes resources that are subject to garbage collection in reverse dependency order
// - waits for the deleted resources to be terminated
package resmgr
