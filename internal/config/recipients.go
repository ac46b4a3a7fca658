package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Recipients is the notification routing document. JSON documents are
// accepted as well since JSON is valid YAML.
type Recipients struct {
	Notifications Notifications `yaml:"notifications" json:"notifications"`
	Exceptions    Exceptions    `yaml:"exceptions" json:"exceptions"`
	Messages      Templates     `yaml:"messages" json:"messages"`
}

type Notifications struct {
	Groups             []GroupEntry  `yaml:"groups" json:"groups"`
	People             []PersonEntry `yaml:"people" json:"people"`
	AutoDiscoverGroups *bool         `yaml:"auto_discover_groups" json:"auto_discover_groups"`
}

// Entries without an explicit active flag are active.
type GroupEntry struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Active *bool  `yaml:"active" json:"active"`
}

func (g GroupEntry) Enabled() bool { return g.Active == nil || *g.Active }

type PersonEntry struct {
	Phone  string `yaml:"phone" json:"phone"`
	Name   string `yaml:"name" json:"name"`
	Active *bool  `yaml:"active" json:"active"`
}

func (p PersonEntry) Enabled() bool { return p.Active == nil || *p.Active }

type Exceptions struct {
	BlockedPhones []string `yaml:"blocked_phones" json:"blocked_phones"`
	BlockedGroups []string `yaml:"blocked_groups" json:"blocked_groups"`
}

type Templates struct {
	NewLead string `yaml:"new_lead_template" json:"new_lead_template"`
	Welcome string `yaml:"welcome_template" json:"welcome_template"`
}

// AutoDiscover defaults to true when the document leaves it unset.
func (r Recipients) AutoDiscover() bool {
	if r.Notifications.AutoDiscoverGroups == nil {
		return true
	}
	return *r.Notifications.AutoDiscoverGroups
}

// LoadRecipients reads the routing document. A missing file yields an empty
// document so the relay can still run with auto-discovered groups.
func LoadRecipients(path string) (Recipients, error) {
	var r Recipients

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return r, fmt.Errorf("read recipients %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse recipients %s: %w", path, err)
	}
	return r, nil
}
