package domain

// RetroactiveWindowDays is how far back a session may be recorded after the fact.
const RetroactiveWindowDays = 7

type RetroactiveDateStatus int

const (
	RetroactiveValid RetroactiveDateStatus = iota
	RetroactiveTooFarInPast
	RetroactiveInFuture
)

func (s RetroactiveDateStatus) String() string {
	switch s {
	case RetroactiveValid:
		return "valid"
	case RetroactiveTooFarInPast:
		return "tooFarInPast"
	case RetroactiveInFuture:
		return "inFuture"
	default:
		return "unknown"
	}
}

// ValidateRetroactiveDate checks that date lies in [today-7, today].
func ValidateRetroactiveDate(date, today Date) RetroactiveDateStatus {
	switch {
	case date.After(today):
		return RetroactiveInFuture
	case date.Before(today.AddDays(-RetroactiveWindowDays)):
		return RetroactiveTooFarInPast
	default:
		return RetroactiveValid
	}
}
