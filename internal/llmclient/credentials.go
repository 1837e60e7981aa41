// Package llmclient wraps an [llm.Provider] with schema-constrained decoding,
// retry/backoff for low-reliability backends, usage tracking, and credential
// resolution, following the teacher's pattern of layering resilience helpers
// around a thin provider interface rather than pushing that logic into the
// provider implementations themselves.
package llmclient

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

// CredentialSource identifies which tier of the resolution priority supplied
// a resolved secret, so the caller can report it (cmd/bristlenose logs it
// at debug level).
type CredentialSource string

const (
	CredentialSourceKeyring CredentialSource = "os-keyring"
	CredentialSourceEnv     CredentialSource = "environment"
	CredentialSourceDotfile CredentialSource = "dotfile"
	CredentialSourceNone    CredentialSource = ""
)

// keyringService is the OS credential store service name under which
// provider API keys are stored.
const keyringService = "bristlenose"

// ResolveCredential resolves an API key for providerName following the
// priority OS credential store → environment variable → dotfile. envVar is
// the environment variable to check (e.g. "ANTHROPIC_API_KEY"); dotfilePath
// is a path to a ".env"-style file consulted last. Either may be empty to
// skip that tier.
//
// Returns the resolved secret and the tier that supplied it. An empty
// secret with CredentialSourceNone means no tier had a value; callers
// decide whether that is fatal.
func ResolveCredential(providerName, envVar, dotfilePath string) (string, CredentialSource, error) {
	if providerName == "" {
		return "", CredentialSourceNone, fmt.Errorf("llmclient: providerName must not be empty")
	}

	if secret, err := keyring.Get(keyringService, providerName); err == nil && secret != "" {
		return secret, CredentialSourceKeyring, nil
	}

	if envVar != "" {
		if secret := os.Getenv(envVar); secret != "" {
			return secret, CredentialSourceEnv, nil
		}
	}

	if dotfilePath != "" {
		if vars, err := godotenv.Read(dotfilePath); err == nil {
			if secret := vars[envVar]; secret != "" {
				return secret, CredentialSourceDotfile, nil
			}
		}
	}

	return "", CredentialSourceNone, nil
}

// StoreCredential writes a secret to the OS credential store under
// providerName, for first-run provisioning flows outside this module's
// scope to call into.
func StoreCredential(providerName, secret string) error {
	if err := keyring.Set(keyringService, providerName, secret); err != nil {
		return fmt.Errorf("llmclient: store credential for %q: %w", providerName, err)
	}
	return nil
}
