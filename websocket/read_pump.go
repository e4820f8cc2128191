// websocket/read_pump.go
package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// readPump читает служебные сообщения клиента до разрыва соединения
func (c *Client) readPump(manager *Manager) {
	defer func() {
		manager.unregister(c)
		c.Socket.Close()
	}()

	c.Socket.SetReadLimit(maxMessageSize)
	c.Socket.SetReadDeadline(time.Now().Add(pongWait))
	c.Socket.SetPongHandler(func(string) error {
		c.Socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				manager.logger.Warn("Подписчик %d: %v", c.ID, err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			manager.logger.Debug("Ошибка декодирования сообщения подписчика %d: %v", c.ID, err)
			continue
		}

		if msg.Type == MessageTypePing {
			if pong, err := json.Marshal(Message{Type: MessageTypePong}); err == nil {
				manager.clientsMu.RLock()
				_, active := manager.clients[c.ID]
				if active {
					select {
					case c.Send <- pong:
					default:
					}
				}
				manager.clientsMu.RUnlock()
			}
		}
	}
}
