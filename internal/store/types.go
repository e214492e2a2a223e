package store

// Account is the durable record behind a session. Timestamps are unix millis.
type Account struct {
	SessionID   string
	Name        string
	PhoneNumber string
	Description string
	Status      string
	WebhookURL  string
	APIToken    string
	APIEnabled  bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Delivery statuses.
const (
	DeliveryQueued = "queued"
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// Delivery is one logged outbound send made through the control API.
type Delivery struct {
	ID           string
	SessionID    string
	Recipient    string
	Body         string
	MediaURL     string
	MediaType    string
	Status       string
	ServerMsgID  string
	ErrorMessage string
	CreatedAt    int64
	UpdatedAt    int64
}
