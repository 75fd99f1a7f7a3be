// Copyright (c) 2026 Keymaster Team
// keyctl - SSH key lifecycle management
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/toeirei/keyctl/internal/errs"
	"github.com/toeirei/keyctl/internal/model"
)

// Expiry bounds in days.
const (
	MinExpiryDays = 1
	MaxExpiryDays = 365
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// reservedNames are files ssh keeps in ~/.ssh.
var reservedNames = map[string]bool{
	"config":                true,
	"known_hosts":           true,
	"known_hosts.old":       true,
	"authorized_keys":       true,
	"authorized_keys2":      true,
	"environment":           true,
	"rc":                    true,
	"allowed_signers":       true,
	"agent.sock":            true,
	"ssh_config":            true,
	"authorized_principals": true,
}

// ValidateName checks that name is usable as a key name and file name.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q (use letters, digits, '.', '_' or '-', starting with a letter or digit)", errs.ErrInvalidName, name)
	}
	if strings.HasSuffix(name, ".pub") || reservedNames[strings.ToLower(name)] {
		return fmt.Errorf("%w: %q is reserved", errs.ErrInvalidName, name)
	}
	return nil
}

// ValidateExpiryDays checks the expiry range.
func ValidateExpiryDays(days int) error {
	if days < MinExpiryDays || days > MaxExpiryDays {
		return fmt.Errorf("%w: expiry must be between %d and %d days, got %d", errs.ErrInvalidInput, MinExpiryDays, MaxExpiryDays, days)
	}
	return nil
}

func validateAlgorithm(t model.KeyType, bits int) error {
	if _, err := model.ParseKeyType(string(t)); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidInput, err)
	}
	if !t.ValidBits(bits) {
		return fmt.Errorf("%w: %d bits is not valid for %s", errs.ErrInvalidInput, bits, t)
	}
	return nil
}
