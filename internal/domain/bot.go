package domain

import (
	"time"

	"github.com/google/uuid"
)

// BotStatus статус торгового бота
type BotStatus string

const (
	// BotStatusWaitingForSetup бот создан, пользователь еще не ввел ключи биржи
	BotStatusWaitingForSetup BotStatus = "WAITING_FOR_SETUP"
	BotStatusActive          BotStatus = "ACTIVE"
	BotStatusPaused          BotStatus = "PAUSED"
)

// Bot экземпляр бота пользователя. Пара (UserID, Name) уникальна.
type Bot struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"-"`
	APISecret string    `json:"-"`
	Status    BotStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPendingBot создает бота без ключей в статусе WAITING_FOR_SETUP.
func NewPendingBot(userID, name string, now time.Time) *Bot {
	return &Bot{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		Status:    BotStatusWaitingForSetup,
		CreatedAt: now,
	}
}
