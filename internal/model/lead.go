package model

// FormResponse is a raw form submission as delivered by the form webhook.
type FormResponse struct {
	ResponseID string            `json:"response_id"`
	FormTitle  string            `json:"form_title"`
	Answers    map[string]string `json:"answers"`
}

// Analysis is the structured lead record produced by an analyzer.
type Analysis struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	LeadType string `json:"lead_type"`
	Priority string `json:"priority"`
	Summary  string `json:"summary"`
}
