package common

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/outreach/internal/models"
)

// ErrAccountNotFound is returned when a bot id matches no configured account
var ErrAccountNotFound = errors.New("account not found")

// envAccount is the single-account fallback read from the environment (.env supported)
type envAccount struct {
	ID         string `env:"BOT_ID" envDefault:"default"`
	Email      string `env:"LINKEDIN_EMAIL"`
	Password   string `env:"LINKEDIN_PASS"`
	CampaignID string `env:"CAMPAIGN_ID"`
}

type accountsFile struct {
	Accounts []models.Account `yaml:"accounts"`
}

// AccountRegistry resolves bot ids to configured accounts
type AccountRegistry struct {
	mu        sync.RWMutex
	accounts  map[string]models.Account
	defaultID string
}

// NewAccountRegistry builds a registry from explicit accounts
func NewAccountRegistry(defaultID string, accounts ...models.Account) *AccountRegistry {
	r := &AccountRegistry{
		accounts:  make(map[string]models.Account, len(accounts)),
		defaultID: defaultID,
	}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	if _, ok := r.accounts[defaultID]; !ok && len(accounts) == 1 {
		r.defaultID = accounts[0].ID
	}
	return r
}

// LoadAccounts reads the YAML roster when it exists, falling back to
// LINKEDIN_EMAIL / LINKEDIN_PASS / CAMPAIGN_ID / BOT_ID.
func LoadAccounts(config *Config) (*AccountRegistry, error) {
	validate := validator.New()
	var accounts []models.Account

	if config.Accounts.File != "" {
		data, err := os.ReadFile(config.Accounts.File)
		switch {
		case err == nil:
			var file accountsFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("failed to parse accounts file %s: %w", config.Accounts.File, err)
			}
			accounts = file.Accounts
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read accounts file %s: %w", config.Accounts.File, err)
		}
	}

	if len(accounts) == 0 {
		var fallback envAccount
		if err := env.Parse(&fallback); err != nil {
			return nil, fmt.Errorf("failed to parse account environment: %w", err)
		}
		if fallback.Email != "" {
			accounts = append(accounts, models.Account{
				ID:         fallback.ID,
				Email:      fallback.Email,
				Password:   fallback.Password,
				CampaignID: fallback.CampaignID,
			})
		}
	}

	seen := make(map[string]bool)
	for i, a := range accounts {
		if err := validate.Struct(a); err != nil {
			return nil, fmt.Errorf("account %d is invalid: %w", i, err)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
	}

	return NewAccountRegistry(config.Accounts.Default, accounts...), nil
}

// Resolve returns the account for a routing id or a legacy "<email>_<secret>" bot id.
// An empty id resolves to the default account.
func (r *AccountRegistry) Resolve(botID string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if botID == "" || botID == "default" {
		botID = r.defaultID
	}
	if a, ok := r.accounts[botID]; ok {
		return a, nil
	}
	for _, a := range r.accounts {
		if a.BotID() == botID {
			return a, nil
		}
	}
	return models.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, botID)
}

// All returns every account ordered by id
func (r *AccountRegistry) All() []models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Len returns the number of configured accounts
func (r *AccountRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}
