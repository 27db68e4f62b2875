package realtime

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/websocket"
)

// Client is a synchronous WebSocket client for command line tools.
// It is not safe for concurrent use.
type Client struct {
	ws      *websocket.Conn
	timeout time.Duration
	n       int

	// OnEvent receives pushed frames read while waiting for an ack.
	OnEvent func(Frame)
}

// Dial connects to the channel of the server at baseURL (http or https).
func Dial(baseURL, origin string) (*Client, error) {
	target := strings.TrimSuffix(baseURL, "/") + Path
	switch {
	case strings.HasPrefix(target, "https://"):
		target = "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		target = "ws://" + strings.TrimPrefix(target, "http://")
	}
	if origin == "" {
		origin = baseURL
	}

	ws, err := websocket.Dial(target, "", origin)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return &Client{ws: ws, timeout: 10 * time.Second}, nil
}

// Request sends one frame and waits for its ack. A rejected request is
// returned as an *AckError.
func (c *Client) Request(frameType string, payload any) (*AckPayload, error) {
	c.n++
	requestID := strconv.Itoa(c.n)

	frame := Frame{Type: frameType, RequestID: requestID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal payload")
		}
		frame.Payload = b
	}
	if err := websocket.JSON.Send(c.ws, frame); err != nil {
		return nil, errors.Wrapf(err, "send %s", frameType)
	}

	deadline := time.Now().Add(c.timeout)
	for {
		resp, err := c.next(deadline)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.Type == FrameAck && resp.RequestID == requestID:
			var ack AckPayload
			if err := json.Unmarshal(resp.Payload, &ack); err != nil {
				return nil, errors.Wrap(err, "decode ack")
			}
			if !ack.OK && ack.Error != nil {
				return &ack, &AckError{Code: ack.Error.Code, Message: ack.Error.Message}
			}
			return &ack, nil
		case resp.Type == FrameError && (resp.RequestID == requestID || resp.RequestID == ""):
			var body ErrorBody
			_ = json.Unmarshal(resp.Payload, &body)
			return nil, &AckError{Code: body.Code, Message: body.Message}
		case c.OnEvent != nil:
			c.OnEvent(resp)
		}
	}
}

// Next blocks until the next pushed frame arrives.
func (c *Client) Next() (Frame, error) {
	return c.next(time.Time{})
}

func (c *Client) next(deadline time.Time) (Frame, error) {
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return Frame{}, errors.Wrap(err, "set read deadline")
	}
	var frame Frame
	if err := websocket.JSON.Receive(c.ws, &frame); err != nil {
		return Frame{}, errors.Wrap(err, "receive")
	}
	return frame, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.ws.Close()
}

// AckError is a request the server refused.
type AckError struct {
	Code    string
	Message string
}

func (e *AckError) Error() string {
	return e.Code + ": " + e.Message
}
