package identity

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain/interfaces"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

// subdomainLookup resolves subdomains to account identities from
// configuration. The lookup is a stand-in for the external account directory;
// the workflow only ever sees the opaque Identity record.
type subdomainLookup struct {
	accounts         map[string]config.AccountIdentity
	defaultSubdomain string
	logger           zerolog.Logger
}

func NewSubdomainLookup(cfg *config.Config, logger zerolog.Logger) interfaces.IdentityLookup {
	return &subdomainLookup{
		accounts:         cfg.Accounts,
		defaultSubdomain: cfg.Identity.DefaultSubdomain,
		logger:           logger,
	}
}

func (l *subdomainLookup) ForSubdomain(subdomain string) (domain.Identity, error) {
	if subdomain == "" {
		subdomain = l.defaultSubdomain
	}

	account, ok := l.accounts[subdomain]
	if !ok {
		account, ok = l.accounts[l.defaultSubdomain]
		if !ok {
			return domain.Identity{}, fmt.Errorf("no identity configured for subdomain %q", subdomain)
		}
		l.logger.Debug().
			Str("subdomain", subdomain).
			Str("fallback", l.defaultSubdomain).
			Msg("Unknown subdomain, using default identity")
	}

	return domain.Identity{Email: account.Email}, nil
}
