package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/yanun0323/logs"

	ws "github.com/user/tradekub/backend/internal/websocket"
)

// MatchFeedEndpoint streams committed order events to a match-engine subscriber.
func MatchFeedEndpoint(hub *ws.Hub, buffer int) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		client := ws.NewClient(c.RemoteAddr().String(), buffer)
		if !hub.Subscribe(client) {
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
		logs.Infof("Match feed connection established: %s", client.Addr)

		// The handler must block: fiber closes the connection when it returns.
		done := make(chan struct{})
		go func() {
			defer close(done)
			readPump(hub, client, c)
		}()
		writePump(hub, client, c)
		<-done
	}
}

// writePump forwards hub frames until the hub closes client.Send or a write fails.
func writePump(hub *ws.Hub, client *ws.Client, c *websocket.Conn) {
	defer c.Close()
	for message := range client.Send {
		if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
			logs.Errorf("Error writing to match feed subscriber %s: %v", client.Addr, err)
			unregister(hub, client)
			return
		}
	}
}

// readPump drains control frames and unregisters the client on disconnect.
func readPump(hub *ws.Hub, client *ws.Client, c *websocket.Conn) {
	defer unregister(hub, client)
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logs.Errorf("Match feed subscriber %s disconnected unexpectedly: %v", client.Addr, err)
			}
			return
		}
	}
}

func unregister(hub *ws.Hub, client *ws.Client) {
	hub.Unsubscribe(client)
}
