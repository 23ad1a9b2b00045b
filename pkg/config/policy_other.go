//go:build !windows

package config

import "errors"

// loadPolicyOverrides has no policy store outside Windows.
func loadPolicyOverrides(_ *Configuration) error {
	return errors.New("policy overrides are only read from the Windows registry")
}
