package types

import "encoding/json"

const (
	WireMessageTypeRoom     = "room"
	WireMessageTypeTransfer = "transfer"
	WireMessageTypeError    = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// TransferMessage is sent by a websocket client to record a transfer from the connected user.
type TransferMessage struct {
	ToUserId string `json:"toUserId" mapstructure:"toUserId"`
	Amount   int    `json:"amount" mapstructure:"amount"`
}

// ErrorMessage is sent to a websocket client when one of its messages could not be processed.
type ErrorMessage struct {
	Message string `json:"message"`
}
