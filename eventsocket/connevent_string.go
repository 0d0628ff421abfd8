package eventsocket

import "strconv"

func (i ConnEvent) String() string {
	switch i {
	case Open:
		return "Open"
	case Close:
		return "Close"
	default:
		return "ConnEvent(" + strconv.Itoa(int(i)) + ")"
	}
}
