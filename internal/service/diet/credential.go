package diet

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/ai-dietitian/backend/internal/config"
)

var azureKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// CredentialCheck reports whether a trimmed, non-empty credential has the
// shape the provider issues.
type CredentialCheck func(credential string) bool

// PrefixCheck accepts credentials starting with prefix.
func PrefixCheck(prefix string) CredentialCheck {
	return func(credential string) bool {
		return strings.HasPrefix(credential, prefix)
	}
}

// CheckFor returns the format rule for provider. A non-empty prefix
// overrides the provider rule.
func CheckFor(provider, prefix string) CredentialCheck {
	if prefix != "" {
		return PrefixCheck(prefix)
	}

	switch provider {
	case config.ProviderArk, "":
		// Ark API keys are UUIDs.
		return func(credential string) bool {
			return uuid.Validate(credential) == nil
		}
	case config.ProviderAzure:
		return azureKeyPattern.MatchString
	case config.ProviderOpenAI:
		return PrefixCheck("sk-")
	default:
		return nil
	}
}
