package model

import "strings"

type CredentialStatus string

const (
	StatusNotConfigured CredentialStatus = "not_configured"
	StatusPartial       CredentialStatus = "partial"
	StatusConfigured    CredentialStatus = "configured"
)

// Credentials holds exchange API access settings.
type Credentials struct {
	UseAPI    bool   `json:"use_api"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// CredentialsPatch is a partial settings update; nil fields are kept.
type CredentialsPatch struct {
	UseAPI    *bool   `json:"use_api,omitempty"`
	APIKey    *string `json:"api_key,omitempty"`
	APISecret *string `json:"api_secret,omitempty"`
}

func (c Credentials) Configured() bool {
	return c.Status() == StatusConfigured
}

func (c Credentials) Status() CredentialStatus {
	hasKey := strings.TrimSpace(c.APIKey) != ""
	hasSecret := strings.TrimSpace(c.APISecret) != ""
	switch {
	case c.UseAPI && hasKey && hasSecret:
		return StatusConfigured
	case c.UseAPI && hasKey:
		return StatusPartial
	}
	return StatusNotConfigured
}

func (c Credentials) StatusText() string {
	switch c.Status() {
	case StatusConfigured:
		return "API Key configured"
	case StatusPartial:
		return "API Key saved (Secret needed)"
	}
	return "Not connected"
}

// CredentialsView is the outward form of Credentials; the secret never leaves the process.
type CredentialsView struct {
	UseAPI     bool             `json:"use_api"`
	APIKey     string           `json:"api_key"`
	HasSecret  bool             `json:"has_secret"`
	Status     CredentialStatus `json:"status"`
	StatusText string           `json:"status_text"`
}

func (c Credentials) View() CredentialsView {
	key := c.APIKey
	if len(key) > 4 {
		key = strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	}
	return CredentialsView{
		UseAPI:     c.UseAPI,
		APIKey:     key,
		HasSecret:  c.APISecret != "",
		Status:     c.Status(),
		StatusText: c.StatusText(),
	}
}
