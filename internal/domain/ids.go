// Package domain contains entities without logic, just meta-data.
package domain

type (
	// ConnID is the ephemeral id a transport connection gets at connect time.
	ConnID string
	// RoomID names a call room; the booking service derives it from an appointment.
	RoomID string
	// UserID is the externally supplied identity, opaque to this subsystem.
	UserID string
)
