package store

type WebhookDelivery struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscriptionId"`
	EventType      string `json:"eventType"`
	URL            string `json:"url"`
	Secret         string `json:"-"`
	Payload        []byte `json:"-"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
}

// Delivery states.
const (
	DeliveryPending   = "pending"
	DeliveryRetry     = "retry"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)
