package models

// Notification kinds. Admin kinds fan out to subscribers; client kinds go to the booking email.
const (
	KindBookingPending   = "booking_pending"
	KindBookingConfirmed = "booking_confirmed"
	KindRequestReceived  = "request_received"
	KindConfirmed        = "confirmed"
	KindRejected         = "rejected"
	KindCancelled        = "cancelled"
)

// AdminKinds are the kinds delivered to notification subscribers.
var AdminKinds = []string{KindBookingPending, KindBookingConfirmed}

const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)
