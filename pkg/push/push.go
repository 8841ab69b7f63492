package push

import "context"

// Message is one push notification addressed to a single device token.
type Message struct {
	Token string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Badge int               `json:"badge,omitempty"`
}

// Ticket is the provider's per-message delivery receipt.
type Ticket struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"message,omitempty"`
}

// Sender delivers push notifications. Implementations must treat delivery as
// best effort; callers log failures and move on.
type Sender interface {
	Send(ctx context.Context, messages []Message) ([]Ticket, error)
}
