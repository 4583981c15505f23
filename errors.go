package finch

import "strconv"

// AlreadyPairedError is returned from [Pair]
// if either endpoint already has a peer.
type AlreadyPairedError struct {
	Name string
}

func (e AlreadyPairedError) Error() string {
	return "endpoint " + e.Name + " is already paired"
}

// HubFullError is returned from [*Hub.AddPort]
// when every port id is in use.
type HubFullError struct {
	Max uint
}

func (e HubFullError) Error() string {
	return "hub full: all " + strconv.FormatUint(uint64(e.Max), 10) + " ports in use"
}
