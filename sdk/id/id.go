// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package id

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// DefaultLen is the number of random characters in an id, not counting the
// optional prefix.
const DefaultLen = 20

const base62Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New generates an id with an optional prefix.
func New(optionalPrefix string) (string, error) {
	id, err := random(DefaultLen)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// random returns a base62 string of length n.  Bytes >= 248 are discarded so
// every character is drawn uniformly from the charset.
func random(n int) (string, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		buf, err := uuid.GenerateRandomBytes(n * 2)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, base62Charset[int(b)%len(base62Charset)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
