package dto

type WebhookResponse struct {
	OK      bool   `json:"ok"`
	Outcome string `json:"outcome,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
