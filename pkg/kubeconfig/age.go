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

package kubeconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// AgeSuffix is appended to the object key of client-side encrypted kubeconfigs.
const AgeSuffix = ".age"

// ErrNoIdentity is returned when pulling an encrypted kubeconfig without an age identity.
var ErrNoIdentity = errors.New("the kubeconfig is age encrypted, an identity is required to decrypt it")

// Cipher holds the age keys used for client-side encryption.
// A zero Cipher stores kubeconfigs as plain text.
type Cipher struct {
	Recipients []age.Recipient
	Identities []age.Identity
}

// LoadCipher reads the recipients and identities files, empty paths are skipped.
func LoadCipher(recipientsFile, identitiesFile string) (Cipher, error) {
	var c Cipher
	if recipientsFile != "" {
		f, err := os.Open(recipientsFile)
		if err != nil {
			return c, err
		}
		defer f.Close()
		if c.Recipients, err = age.ParseRecipients(f); err != nil {
			return c, fmt.Errorf("failed to parse age recipients from %s: %w", recipientsFile, err)
		}
	}

	if identitiesFile != "" {
		f, err := os.Open(identitiesFile)
		if err != nil {
			return c, err
		}
		defer f.Close()
		if c.Identities, err = age.ParseIdentities(f); err != nil {
			return c, fmt.Errorf("failed to parse age identities from %s: %w", identitiesFile, err)
		}
	}

	return c, nil
}

func (c Cipher) Enabled() bool {
	return len(c.Recipients) > 0
}

// Seal returns the armored age ciphertext of data.
func (c Cipher) Seal(data []byte) ([]byte, error) {
	buffer := &bytes.Buffer{}
	aw := armor.NewWriter(buffer)
	w, err := age.Encrypt(aw, c.Recipients...)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	if err := aw.Close(); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func (c Cipher) Open(data []byte) ([]byte, error) {
	if len(c.Identities) == 0 {
		return nil, ErrNoIdentity
	}
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), c.Identities...)
	if err != nil {
		return nil, fmt.Errorf("age decryption failed: %w", err)
	}
	return io.ReadAll(r)
}
