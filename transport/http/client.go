package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/autom8ter/docrepl/applier"
	"github.com/autom8ter/docrepl/errors"
	"github.com/gorilla/websocket"
)

// EventsClient reads the applied batch stream of a server
type EventsClient struct {
	conn *websocket.Conn
}

// DialEvents connects to the events stream of the server at serverURL
func DialEvents(ctx context.Context, serverURL string, header http.Header) (*EventsClient, error) {
	if strings.HasPrefix(serverURL, "http") {
		serverURL = strings.Replace(serverURL, "http", "ws", 1)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL+"/events", header)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unavailable, "failed to connect to events websocket")
	}
	return &EventsClient{conn: conn}, nil
}

// Read blocks until the next event arrives
func (c *EventsClient) Read(ctx context.Context) (applier.BatchApplied, error) {
	if ctx.Err() != nil {
		return applier.BatchApplied{}, errors.Wrap(ctx.Err(), errors.Cancelled, "")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	}
	var event applier.BatchApplied
	if err := c.conn.ReadJSON(&event); err != nil {
		return applier.BatchApplied{}, errors.Wrap(err, errors.Unavailable, "failed to read event")
	}
	return event, nil
}

func (c *EventsClient) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
