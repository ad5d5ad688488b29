package server

// Request types for WebSocket commands with validation tags.

// ReconnectRequest is the request body for connection/reconnect.
type ReconnectRequest struct {
	Channel string `json:"channel" validate:"required,oneof=meeting coordination"`
}

// EventsRequest is the request body for events/get.
type EventsRequest struct {
	Limit  int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
	Offset int    `json:"offset" validate:"omitempty,gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=channel role recording upload"`
}

// AudioUpdateRequest is the request body for audio/update.
type AudioUpdateRequest struct {
	Input string `json:"input" validate:"omitempty,max=512"`
}
