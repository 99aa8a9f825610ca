package auth

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fletcher-io/fletcher/internal/config"
)

// ServiceAccount is one statically configured client: the service name,
// the bcrypt hash of its pre-shared key, and the roles it holds.
type ServiceAccount struct {
	Service string `yaml:"service"`
	Hash    string `yaml:"hash"`
	Roles   []Role `yaml:"roles"`
}

// Registry resolves service accounts by name. It is immutable after load;
// removing an account from configuration and restarting the process is the
// coarse revocation path for its outstanding tokens.
type Registry struct {
	accounts map[string]ServiceAccount
}

// NewRegistry builds a registry from a list of accounts, rejecting entries
// that could not possibly authenticate: empty names, missing hashes,
// unknown roles, duplicate services.
func NewRegistry(accounts []ServiceAccount) (*Registry, error) {
	registry := &Registry{accounts: make(map[string]ServiceAccount, len(accounts))}

	for _, account := range accounts {
		if account.Service == "" {
			return nil, fmt.Errorf("service account with empty service name")
		}

		if account.Hash == "" {
			return nil, fmt.Errorf("service account %q has no key hash", account.Service)
		}

		for _, role := range account.Roles {
			if !role.IsValid() {
				return nil, fmt.Errorf("service account %q has unknown role %q", account.Service, role)
			}
		}

		if _, exists := registry.accounts[account.Service]; exists {
			return nil, fmt.Errorf("duplicate service account %q", account.Service)
		}

		registry.accounts[account.Service] = account
	}

	return registry, nil
}

// Lookup returns the account registered under a service name.
func (r *Registry) Lookup(service string) (ServiceAccount, bool) {
	account, ok := r.accounts[service]

	return account, ok
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// LoadRegistry reads service accounts from configuration.
//
// FLETCHER_SERVICE_ACCOUNTS_FILE names a YAML file; when unset,
// FLETCHER_SERVICE_ACCOUNTS is read as inline YAML (JSON works too, YAML
// being a superset). With neither set the registry is empty, every login
// fails, and a warning is logged. A present but malformed source is a
// startup error.
func LoadRegistry(logger *slog.Logger) (*Registry, error) {
	if path := config.GetEnvStr("FLETCHER_SERVICE_ACCOUNTS_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read service accounts file: %w", err)
		}

		return parseAccounts(data)
	}

	if inline := config.GetEnvStr("FLETCHER_SERVICE_ACCOUNTS", ""); inline != "" {
		return parseAccounts([]byte(inline))
	}

	logger.Warn("no service accounts configured, all logins will be rejected",
		"hint", "set FLETCHER_SERVICE_ACCOUNTS_FILE or FLETCHER_SERVICE_ACCOUNTS")

	return NewRegistry(nil)
}

func parseAccounts(data []byte) (*Registry, error) {
	var accounts []ServiceAccount
	if err := yaml.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to parse service accounts: %w", err)
	}

	return NewRegistry(accounts)
}
