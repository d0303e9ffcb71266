package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/cardscore/types"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound room messages, owned (and closed) by the hub.
	Send chan []byte

	// replies to this client's own messages, never closed
	replies chan []byte

	userId string

	doneChan chan struct{}
	logger   hclog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, userId string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		Send:     make(chan []byte, sendChannelSize),
		replies:  make(chan []byte, sendChannelSize),
		userId:   userId,
		doneChan: make(chan struct{}),
		logger:   hub.logger.With("user", userId),
	}
}

// ReadLoop pumps messages from the websocket connection to the ledger.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		close(c.doneChan)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket closed unexpectedly", "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			c.replyError("could not decode message: " + err.Error())
			continue
		}

		switch message.Event {
		case types.WireMessageTypeTransfer:
			c.handleTransfer(message.Data)
		default:
			c.replyError("unknown event: " + message.Event)
		}
	}
}

// handleTransfer records a transfer from the connected user. The resulting room update reaches the client through
// the hub.
func (c *Client) handleTransfer(data json.RawMessage) {
	transferMap := make(map[string]interface{})
	if err := json.Unmarshal(data, &transferMap); err != nil {
		c.replyError("could not decode transfer: " + err.Error())
		return
	}
	transfer := types.TransferMessage{}
	if err := mapstructure.WeakDecode(transferMap, &transfer); err != nil {
		c.replyError("could not decode transfer: " + err.Error())
		return
	}
	_, err := c.hub.ledger.CreateTransaction(c.hub.roomId, c.userId, transfer.ToUserId, transfer.Amount)
	if err != nil {
		c.logger.Debug("transfer rejected", "error", err)
		c.replyError(err.Error())
	}
}

func (c *Client) replyError(text string) {
	msg, err := wireMessage(types.WireMessageTypeError, types.ErrorMessage{Message: text})
	if err != nil {
		c.logger.Error("could not marshal error message", "error", err)
		return
	}
	select {
	case c.replies <- msg:
	default:
		c.logger.Warn("reply buffer full, dropping error message")
	}
}

// WriteLoop pumps messages from the hub to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case message := <-c.replies:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.doneChan:
			return
		}
	}
}
