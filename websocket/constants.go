// websocket/constants.go
package websocket

import (
	"time"
)

// Константы для WebSocket-соединения
const (
	// Время ожидания записи сообщения клиенту
	writeWait = 10 * time.Second

	// Время ожидания сообщения от клиента
	pongWait = 60 * time.Second

	// Период отправки пинг-сообщений
	pingPeriod = (pongWait * 9) / 10

	// Клиенты ленты только подписываются, поэтому входящие сообщения маленькие
	maxMessageSize = 4 * 1024

	// Размер очереди исходящих сообщений клиента
	sendBuffer = 256

	// Размер очереди рассылки менеджера
	broadcastBuffer = 64
)

// Типы сообщений ленты
const (
	MessageTypeFraud = "fraud"
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
)
