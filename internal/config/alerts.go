package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AlertTemplate maps an alert event to the subject line and template id the
// notification webhook should use.
type AlertTemplate struct {
	Subject    string `yaml:"subject"`
	TemplateID string `yaml:"template"`
}

// AlertTemplates is keyed by alert event name.
type AlertTemplates map[string]AlertTemplate

// DefaultAlertTemplates returns the built-in templates.
func DefaultAlertTemplates() AlertTemplates {
	return AlertTemplates{
		"daily_report":        {Subject: "Your daily indexing report for {{site}}", TemplateID: "daily-report"},
		"low_credit":          {Subject: "Your AutoIndex credit balance is running low", TemplateID: "low-credit"},
		"dead_pages":          {Subject: "Dead pages detected on {{site}}", TemplateID: "dead-pages"},
		"token_expired":       {Subject: "Reconnect Google to keep indexing", TemplateID: "token-expired"},
		"could_not_charge":    {Subject: "A submission could not be charged", TemplateID: "could-not-charge"},
		"job_failed":          {Subject: "Scheduled job failed", TemplateID: "job-failed"},
		"purchase_unresolved": {Subject: "A paid checkout needs manual crediting", TemplateID: "purchase-unresolved"},
	}
}

// LoadAlertTemplates reads a YAML file of event templates and merges it over
// the defaults. An empty path returns the defaults.
func LoadAlertTemplates(path string) (AlertTemplates, error) {
	templates := DefaultAlertTemplates()
	if path == "" {
		return templates, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert templates: %w", err)
	}

	var overrides AlertTemplates
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse alert templates: %w", err)
	}
	for event, tpl := range overrides {
		templates[event] = tpl
	}
	return templates, nil
}
