package model

import "time"

// Device is the last known identity and address of a printer.
type Device struct {
	Serial     string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:128;not null"`
	Model      string `gorm:"size:32;not null"`
	IP         string `gorm:"size:64"`
	Port       int
	Transport  string    `gorm:"size:16;not null"`
	Firmware   string    `gorm:"size:32"`
	LastSeenAt time.Time `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}
