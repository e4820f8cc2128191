// websocket/types.go
package websocket

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/LilVoxy/coursework_dwh/ETL/models"
	"github.com/LilVoxy/coursework_dwh/ETL/utils"
)

// Message сообщение ленты событий мошенничества
type Message struct {
	Type   string              `json:"type"`
	Events []models.FraudEvent `json:"events,omitempty"`
}

// Клиент WebSocket
type Client struct {
	ID     int64
	Socket *websocket.Conn
	Send   chan []byte
}

// Менеджер WebSocket-соединений ленты
type Manager struct {
	clients    map[int64]*Client
	clientsMu  sync.RWMutex
	Broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	nextID     int64
	logger     *utils.ETLLogger
}

// Конфигурация WebSocket-соединения
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // лента доступна дашбордам с любого источника
	},
}
