// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// SealedKey holds a provider API key encrypted in guarded memory.
//
// Description:
//
//	The plaintext is sealed into a memguard Enclave at construction and the
//	caller's copy is wiped. The key is only decrypted for the duration of a
//	WithKey callback.
//
// Thread Safety: Safe for concurrent use.
type SealedKey struct {
	enclave *memguard.Enclave
}

// NewSealedKey seals key. An empty key yields a nil *SealedKey, which
// WithKey treats as "no key configured".
func NewSealedKey(key string) *SealedKey {
	if key == "" {
		return nil
	}
	buf := []byte(key)
	// NewEnclave wipes buf.
	return &SealedKey{enclave: memguard.NewEnclave(buf)}
}

// WithKey opens the key, passes it to fn and destroys the plaintext buffer.
//
// Outputs:
//   - error: Non-nil if the enclave cannot be opened or no key is set.
func (k *SealedKey) WithKey(fn func(key string)) error {
	if k == nil || k.enclave == nil {
		return fmt.Errorf("llm: no API key configured")
	}
	lb, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("llm: opening sealed key: %w", err)
	}
	defer lb.Destroy()
	fn(string(lb.Bytes()))
	return nil
}

// Set reports whether a key is present.
func (k *SealedKey) Set() bool {
	return k != nil && k.enclave != nil
}
