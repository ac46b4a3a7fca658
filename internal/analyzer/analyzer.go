package analyzer

import (
	"context"
	"strings"

	"github.com/LeventeLantos/lead-relay/internal/model"
)

type Analyzer interface {
	Analyze(ctx context.Context, resp model.FormResponse) (model.Analysis, error)
}

var highPriority = map[string]struct{}{
	"alta":    {},
	"high":    {},
	"urgent":  {},
	"urgente": {},
}

func IsHighPriority(priority string) bool {
	_, ok := highPriority[strings.ToLower(strings.TrimSpace(priority))]
	return ok
}

// FieldAnalyzer maps well-known answer keys straight into an Analysis. It
// never fails and is the fallback when no LLM is configured or it errors.
type FieldAnalyzer struct{}

func (FieldAnalyzer) Analyze(_ context.Context, resp model.FormResponse) (model.Analysis, error) {
	answers := make(map[string]string, len(resp.Answers))
	for k, v := range resp.Answers {
		answers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	a := model.Analysis{
		Name:     pick(answers, "name", "nome"),
		Phone:    pick(answers, "phone", "telefone", "whatsapp"),
		Email:    pick(answers, "email", "e-mail"),
		LeadType: pick(answers, "lead_type", "tipo", "tipo_lead"),
		Priority: pick(answers, "priority", "prioridade"),
		Summary:  pick(answers, "message", "mensagem", "observacoes"),
	}
	if a.LeadType == "" {
		a.LeadType = "Lead"
	}
	if a.Priority == "" {
		// a stated budget marks a serious lead
		if pick(answers, "budget", "orcamento") != "" {
			a.Priority = "alta"
		} else {
			a.Priority = "media"
		}
	}
	return a, nil
}

func pick(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}
