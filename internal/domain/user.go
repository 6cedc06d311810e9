package domain

import "time"

// User владелец подписок, ботов и заказов. Ядро биллинга только проверяет его существование.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
