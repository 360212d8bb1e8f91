package model

import "time"

type Appointment struct {
	ID         int64
	UserID     int64
	ProviderID int64
	Date       time.Time
	CanceledAt *time.Time
	CreatedAt  time.Time

	// Joined for display and for the cancellation event snapshot.
	Provider *User
	Customer *User
}

type User struct {
	ID       int64
	Name     string
	Email    string
	Provider bool
	Avatar   *Avatar
}

type Avatar struct {
	ID   int64
	Path string
	URL  string
}
