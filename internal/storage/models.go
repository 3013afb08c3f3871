package storage

import "time"

// Message is one side of one turn. User-side records carry Input; AI-side
// records carry ProviderParsed and ProviderRaw.
type Message struct {
	ID             string
	UserID         string
	Tool           string
	Input          *string
	ProviderParsed *string
	ProviderRaw    *string
	CreatedAt      time.Time
}

func (m Message) IsUser() bool {
	return m.Input != nil
}

// Turn pairs a user record with the AI record that followed it.
type Turn struct {
	UserID     string    `json:"userId"`
	Prompt     string    `json:"prompt"`
	Tool       string    `json:"tool"`
	AnsweredBy string    `json:"answeredBy,omitempty"`
	Response   string    `json:"response,omitempty"`
	Raw        string    `json:"providerRaw,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AuditEntry struct {
	UserID   string
	Action   string
	MetaJSON string
}
