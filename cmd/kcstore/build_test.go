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

package main

import (
	"fmt"
	"os"
	"testing"

	. "github.com/onsi/gomega"
)

func TestBuild(t *testing.T) {
	g := NewWithT(t)
	bucket := "kc-" + randStringRunes(8)

	t.Run("generates the kubeconfig store", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("build --bucket-name %s --tag env=prod", bucket))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("bucketName: " + bucket))
		g.Expect(output).To(ContainSubstring("kind: BucketPublicAccessBlock"))
		g.Expect(output).To(ContainSubstring("sseAlgorithm: aws:kms"))
		g.Expect(output).To(ContainSubstring("env: prod"))
		g.Expect(output).To(ContainSubstring("Name: Kubernetes kubeconfig"))
	})

	t.Run("prints json", func(t *testing.T) {
		output, err := executeCommand(fmt.Sprintf("build --bucket-name %s -o json", bucket))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring(`"bucketName": "` + bucket + `"`))
	})

	t.Run("fails for unknown output", func(t *testing.T) {
		_, err := executeCommand(fmt.Sprintf("build --bucket-name %s -o toml", bucket))
		g.Expect(err).To(HaveOccurred())
	})

	t.Run("fails without input", func(t *testing.T) {
		_, err := executeCommand("build")
		g.Expect(err).To(MatchError(ContainSubstring("--bucket-name is required")))
	})

	t.Run("fails for invalid tags", func(t *testing.T) {
		_, err := executeCommand(fmt.Sprintf("build --bucket-name %s --tag aws:team=a", bucket))
		g.Expect(err).To(MatchError(ContainSubstring("reserved aws: prefix")))
	})
}

func TestBuildManifests(t *testing.T) {
	g := NewWithT(t)
	id := randStringRunes(8)

	dir, err := makeTestDir(id, testManifests("kc-"+id, true))
	g.Expect(err).NotTo(HaveOccurred())

	output, err := executeCommand(fmt.Sprintf("build -f %s", dir))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(output).To(ContainSubstring("bucketName: kc-" + id))
	g.Expect(output).To(ContainSubstring("kind: Key"))

	t.Run("reads stdin", func(t *testing.T) {
		data, err := os.ReadFile(dir + "/bucket.yaml")
		g.Expect(err).NotTo(HaveOccurred())

		output, err := executeCommandWithIn("build -f -", data)
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("bucketName: kc-" + id))
		g.Expect(output).NotTo(ContainSubstring("kind: Key"))
	})

	t.Run("rejects dangling references", func(t *testing.T) {
		_, err := executeCommand(fmt.Sprintf("build -f %s/encryption.yaml", dir))
		g.Expect(err).To(MatchError(ContainSubstring("which is not declared")))
	})
}

func TestBuildFromEnv(t *testing.T) {
	g := NewWithT(t)
	bucket := "kc-" + randStringRunes(8)

	t.Setenv("KCSTORE_BUCKET_NAME", bucket)

	output, err := executeCommand("build")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(output).To(ContainSubstring("bucketName: " + bucket))

	t.Run("flags win over env", func(t *testing.T) {
		output, err := executeCommand("build --bucket-name kc-from-flag")
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(output).To(ContainSubstring("bucketName: kc-from-flag"))
	})
}

// testManifests returns a bucket with a dedicated encryption key.
var testManifests = func(bucket string, withKey bool) []TestFile {
	files := []TestFile{
		{
			Name: "bucket.yaml",
			Body: fmt.Sprintf(`---
apiVersion: kcstore.dev/v1alpha1
kind: Bucket
metadata:
  name: store
spec:
  bucketName: "%[1]s"
  forceDestroy: true
  tags:
    team: platform
---
apiVersion: kcstore.dev/v1alpha1
kind: BucketVersioning
metadata:
  name: store
spec:
  bucketRef:
    name: store
  status: Enabled
`, bucket),
		},
	}
	if withKey {
		files = append(files,
			TestFile{
				Name: "key.yaml",
				Body: `---
apiVersion: kcstore.dev/v1alpha1
kind: Key
metadata:
  name: store
spec:
  description: test key
  deletionWindowInDays: 7
`,
			},
			TestFile{
				Name: "encryption.yaml",
				Body: `---
apiVersion: kcstore.dev/v1alpha1
kind: BucketEncryption
metadata:
  name: store
spec:
  bucketRef:
    name: store
  keyRef:
    name: store
  sseAlgorithm: aws:kms
`,
			},
		)
	}
	return files
}
