// websocket/manager.go
package websocket

import (
	"context"
	"encoding/json"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// NewManager создает новый экземпляр Manager
func NewManager(logger *utils.ETLLogger) *Manager {
	return &Manager{
		clients:    make(map[int64]*Client),
		Broadcast:  make(chan []byte, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run обслуживает подключения до отмены ctx, затем отключает всех клиентов
func (manager *Manager) Run(ctx context.Context) {
	defer func() {
		close(manager.done)
		manager.clientsMu.Lock()
		for id, client := range manager.clients {
			delete(manager.clients, id)
			close(client.Send)
		}
		manager.clientsMu.Unlock()
		manager.logger.Info("Лента событий остановлена")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-manager.Register:
			manager.clientsMu.Lock()
			manager.clients[client.ID] = client
			manager.clientsMu.Unlock()
			manager.logger.Debug("Подписчик %d подключился", client.ID)

		case client := <-manager.Unregister:
			manager.clientsMu.Lock()
			if _, ok := manager.clients[client.ID]; ok {
				delete(manager.clients, client.ID)
				close(client.Send)
				manager.logger.Debug("Подписчик %d отключился", client.ID)
			}
			manager.clientsMu.Unlock()

		case message := <-manager.Broadcast:
			manager.broadcast(message)
		}
	}
}

// broadcast отправляет сообщение всем подключенным клиентам.
// Клиент с переполненной очередью отключается.
func (manager *Manager) broadcast(message []byte) {
	manager.clientsMu.Lock()
	defer manager.clientsMu.Unlock()

	for id, client := range manager.clients {
		select {
		case client.Send <- message:
		default:
			close(client.Send)
			delete(manager.clients, id)
			manager.logger.Warn("Подписчик %d не успевает читать ленту и отключён", id)
		}
	}
}

// ClientCount возвращает количество подключенных клиентов
func (manager *Manager) ClientCount() int {
	manager.clientsMu.RLock()
	defer manager.clientsMu.RUnlock()
	return len(manager.clients)
}

// Publish рассылает новые события подписчикам. Не блокирует синхронизацию:
// если очередь рассылки заполнена или менеджер остановлен, события пропускаются.
func (manager *Manager) Publish(events []models.FraudEvent) {
	if len(events) == 0 {
		return
	}
	data, err := json.Marshal(Message{Type: MessageTypeFraud, Events: events})
	if err != nil {
		manager.logger.Error("Ошибка кодирования событий для ленты: %v", err)
		return
	}

	select {
	case manager.Broadcast <- data:
	case <-manager.done:
	default:
		manager.logger.Warn("Очередь ленты заполнена, пропущено событий: %d", len(events))
	}
}

func (manager *Manager) register(client *Client) bool {
	select {
	case manager.Register <- client:
		return true
	case <-manager.done:
		return false
	}
}

func (manager *Manager) unregister(client *Client) {
	select {
	case manager.Unregister <- client:
	case <-manager.done:
	}
}
