// websocket/connection_handler.go
package websocket

import (
	"net/http"
	"sync/atomic"
)

// HandleConnections подключает клиента к ленте событий мошенничества
func (manager *Manager) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		manager.logger.Error("Ошибка при установке WebSocket-соединения: %v", err)
		return
	}

	client := &Client{
		ID:     atomic.AddInt64(&manager.nextID, 1),
		Socket: conn,
		Send:   make(chan []byte, sendBuffer),
	}

	if !manager.register(client) {
		conn.Close()
		return
	}
	manager.logger.Info("Подписчик ленты %d подключился с адреса %s", client.ID, r.RemoteAddr)

	go client.readPump(manager)
	go client.writePump()
}
