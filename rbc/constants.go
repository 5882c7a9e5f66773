package rbc

// Message classes. A target receives a message when its mask contains
// every bit of the message flag.
const (
	FlagPosition = 1
	FlagWarning  = 2
)
