// ABOUTME: Credential presence and format checking for agent API keys
// ABOUTME: Maps credential env var names to providers and validates key shapes per provider

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrCredentialMissing indicates a required credential env var is unset or empty.
var ErrCredentialMissing = errors.New("credential not set")

// ErrCredentialMalformed indicates a credential is present but fails the
// provider-specific format check. Missing and malformed are distinct,
// separately reported conditions.
var ErrCredentialMalformed = errors.New("credential malformed")

// keyPatterns holds provider-specific API key format checks.
var keyPatterns = map[string]*regexp.Regexp{
	"openai":    regexp.MustCompile(`^sk-[a-zA-Z0-9]{32,}$`),
	"anthropic": regexp.MustCompile(`^sk-ant-[a-zA-Z0-9-]{32,}$`),
	"google":    regexp.MustCompile(`^AIza[a-zA-Z0-9_-]{35}$`),
	"deepseek":  regexp.MustCompile(`^sk-[a-zA-Z0-9]{32,}$`),
	"generic":   regexp.MustCompile(`^[a-zA-Z0-9_-]{16,}$`),
}

// keyProviders maps well-known credential env var names to providers.
var keyProviders = map[string]string{
	"OPENAI_API_KEY":    "openai",
	"ANTHROPIC_API_KEY": "anthropic",
	"GOOGLE_API_KEY":    "google",
	"DEEPSEEK_API_KEY":  "deepseek",
}

// ProviderForEnv returns the API key provider for a credential env var name.
// Unknown names map to the generic provider.
func ProviderForEnv(envVar string) string {
	if p, ok := keyProviders[envVar]; ok {
		return p
	}
	return "generic"
}

// CredentialStatus reports the outcome of a credential check.
type CredentialStatus struct {
	Present bool
	Valid   bool
	Err     error // nil when Present and Valid
}

// CheckCredential reads the credential from envVar and validates its format
// against the provider's pattern. An empty envVar means no credential is
// required and reports present and valid.
func CheckCredential(envVar string) CredentialStatus {
	if envVar == "" {
		return CredentialStatus{Present: true, Valid: true}
	}

	key := os.Getenv(envVar)
	if key == "" {
		return CredentialStatus{
			Err: fmt.Errorf("%w: %s", ErrCredentialMissing, envVar),
		}
	}

	provider := ProviderForEnv(envVar)
	if pattern, ok := keyPatterns[provider]; ok && !pattern.MatchString(key) {
		return CredentialStatus{
			Present: true,
			Err:     fmt.Errorf("%w: %s does not match the %s key format", ErrCredentialMalformed, envVar, provider),
		}
	}

	return CredentialStatus{Present: true, Valid: true}
}

// MaskKey returns a redacted form of an API key suitable for logging.
func MaskKey(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) > 8 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return "***"
}
