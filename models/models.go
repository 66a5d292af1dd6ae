package models

import (
	"time"
)

// Uid identifies a mailbox. Zero is never a valid id; the cache layer uses
// it as the "no such mailbox" sentinel.
type Uid uint64

type Mailbox struct {
	ID        Uid `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Address   string `gorm:"uniqueindex"`
	Domain    string `gorm:"index"`
	ExpiresAt time.Time
}

type Message struct {
	ID        Uid `gorm:"primarykey"`
	CreatedAt time.Time
	Mailbox   Uid `gorm:"index"`
	Sender    string
	Subject   string
	Size      int64
	Source    []byte
	Seen      bool
}
