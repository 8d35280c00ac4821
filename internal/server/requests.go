package server

// Request types for WebSocket commands with validation tags.

// NotificationTestRequest is the request body for notifications/test.
type NotificationTestRequest struct {
	Channel string `json:"channel" validate:"required,oneof=webhook zabbix log email"`
}

// EventsRequest is the request body for events/recent.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=recording storage"`
}
