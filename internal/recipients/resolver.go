package recipients

import (
	"context"
	"log/slog"
	"strings"

	"github.com/LeventeLantos/lead-relay/internal/client"
	"github.com/LeventeLantos/lead-relay/internal/config"
	"github.com/LeventeLantos/lead-relay/internal/model"
)

const (
	DefaultNewLeadTemplate = "🔔 NEW LEAD RECEIVED\n\nID: {response_id}\nName: {name}\nPhone: {phone}\nType: {lead_type}\nPriority: {priority}"
	DefaultWelcomeTemplate = "Hello {name}! 👋\n\nThank you for getting in touch.\n\nWe received your request and our team is already reviewing it. We will contact you shortly."
)

type GroupLister interface {
	ListGroups(ctx context.Context) ([]client.Group, error)
}

type Person struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// Resolver expands the routing document into concrete recipients.
type Resolver struct {
	doc         config.Recipients
	lister      GroupLister
	countryCode string

	blockedPhones map[string]struct{}
	blockedGroups map[string]struct{}
}

func New(doc config.Recipients, lister GroupLister, countryCode string) *Resolver {
	r := &Resolver{
		doc:           doc,
		lister:        lister,
		countryCode:   countryCode,
		blockedPhones: make(map[string]struct{}, len(doc.Exceptions.BlockedPhones)),
		blockedGroups: make(map[string]struct{}, len(doc.Exceptions.BlockedGroups)),
	}
	for _, p := range doc.Exceptions.BlockedPhones {
		if n := client.NormalizePhone(p, countryCode); n != "" {
			r.blockedPhones[n] = struct{}{}
		}
	}
	for _, g := range doc.Exceptions.BlockedGroups {
		r.blockedGroups[strings.TrimSpace(g)] = struct{}{}
	}
	return r
}

func (r *Resolver) IsBlockedPhone(phone string) bool {
	_, ok := r.blockedPhones[client.NormalizePhone(phone, r.countryCode)]
	return ok
}

func (r *Resolver) IsBlockedGroup(id string) bool {
	_, ok := r.blockedGroups[strings.TrimSpace(id)]
	return ok
}

// ResolveGroups returns the group ids a notification goes to. Explicit ids
// win. Otherwise groups are discovered from the gateway when both the caller
// and the document allow it, falling back to the document's active groups.
func (r *Resolver) ResolveGroups(ctx context.Context, explicit []string, autoDiscover bool) []string {
	ids := explicit

	if len(ids) == 0 && autoDiscover && r.doc.AutoDiscover() && r.lister != nil {
		groups, err := r.lister.ListGroups(ctx)
		if err != nil {
			slog.Warn("group discovery failed, using configured groups", "err", err)
		}
		for _, g := range groups {
			ids = append(ids, g.ID)
		}
		if len(ids) > 0 {
			slog.Info("groups discovered", "count", len(ids))
		}
	}

	if len(ids) == 0 {
		for _, g := range r.doc.Notifications.Groups {
			if g.Enabled() && g.ID != "" {
				ids = append(ids, g.ID)
			}
		}
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if r.IsBlockedGroup(id) {
			slog.Info("group skipped, blocked", "group", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

// ResolveTeam returns the active people to notify, with phones normalized.
// The lead's own number is excluded when ownerPhone is set.
func (r *Resolver) ResolveTeam(ownerPhone string) []Person {
	owner := ""
	if ownerPhone != "" {
		owner = client.NormalizePhone(ownerPhone, r.countryCode)
	}

	seen := make(map[string]struct{})
	var out []Person
	for _, p := range r.doc.Notifications.People {
		if !p.Enabled() {
			continue
		}
		phone := client.NormalizePhone(p.Phone, r.countryCode)
		if phone == "" {
			continue
		}
		if owner != "" && phone == owner {
			slog.Info("team member skipped, lead owner", "name", p.Name)
			continue
		}
		if r.IsBlockedPhone(phone) {
			slog.Info("team member skipped, blocked", "name", p.Name)
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		out = append(out, Person{Phone: phone, Name: p.Name})
	}
	return out
}

func (r *Resolver) RenderNewLead(responseID string, a model.Analysis) string {
	tmpl := r.doc.Messages.NewLead
	if tmpl == "" {
		tmpl = DefaultNewLeadTemplate
	}

	name := orDefault(a.Name, "not informed")
	phone := orDefault(a.Phone, "not informed")
	leadType := orDefault(a.LeadType, "Lead")
	priority := orDefault(a.Priority, "medium")

	// documents written for the older Portuguese keys keep working
	return strings.NewReplacer(
		"{response_id}", responseID,
		"{name}", name, "{nome}", name,
		"{phone}", phone, "{telefone}", phone,
		"{lead_type}", leadType, "{tipo_lead}", leadType,
		"{priority}", priority, "{prioridade}", priority,
	).Replace(tmpl)
}

func (r *Resolver) RenderWelcome(a model.Analysis) string {
	tmpl := r.doc.Messages.Welcome
	if tmpl == "" {
		tmpl = DefaultWelcomeTemplate
	}
	name := orDefault(a.Name, "there")
	return strings.NewReplacer("{name}", name, "{nome}", name).Replace(tmpl)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
