package model

import "time"

type Message struct {
	ID            string
	AppointmentID string
	SenderID      string
	ReceiverID    string
	Body          string
	Seen          bool
	SeenAt        *time.Time
	CreatedAt     time.Time
}
