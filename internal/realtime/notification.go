package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is the display item surfaced to the UI for a push event.
// Items are ephemeral: activating or dismissing one removes it from the
// feed.
type Notification struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	OrderReference string    `json:"order_reference"`
	Amount         float64   `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// normalize maps a raw push event onto a Notification. The backend's event
// payloads are not uniform, so alternate field names are tolerated and an
// id is generated when the event carries none.
func normalize(event Event) Notification {
	var data struct {
		ID             string  `json:"id"`
		Title          string  `json:"title"`
		Body           string  `json:"body"`
		Message        string  `json:"message"`
		OrderReference string  `json:"order_reference"`
		OrderID        string  `json:"order_id"`
		Amount         float64 `json:"amount"`
		Timestamp      string  `json:"timestamp"`
		CreatedAt      string  `json:"created_at"`
	}
	_ = json.Unmarshal(event.Data, &data)

	n := Notification{
		ID:             data.ID,
		Title:          data.Title,
		Body:           data.Body,
		OrderReference: data.OrderReference,
		Amount:         data.Amount,
		Timestamp:      time.Now(),
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Body == "" {
		n.Body = data.Message
	}
	if n.OrderReference == "" {
		n.OrderReference = data.OrderID
	}
	if n.Title == "" {
		switch event.Type {
		case EventOrderStatus:
			n.Title = "Order update"
		default:
			n.Title = "Notification"
		}
	}
	for _, ts := range []string{data.Timestamp, data.CreatedAt} {
		if ts == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			n.Timestamp = t
			break
		}
	}

	return n
}
