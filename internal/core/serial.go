package core

// SerialState is one position in the IMEI lifecycle. A serial holds exactly
// one state at any instant; there is no terminal state, a unit can cycle
// indefinitely as real-world returns and resales occur.
type SerialState string

const (
	SerialInStock        SerialState = "in-stock"
	SerialSold           SerialState = "sold"
	SerialReturned       SerialState = "returned"
	SerialWarranty       SerialState = "warranty"
	SerialTransferredOut SerialState = "transferred-out"
)

// serialTransitions is the lifecycle graph. TransferredOut covers any exit
// from branch custody (stock transfer or return to supplier); the unit
// re-enters as InStock at its destination.
var serialTransitions = map[SerialState][]SerialState{
	SerialInStock:        {SerialSold, SerialTransferredOut},
	SerialSold:           {SerialReturned, SerialWarranty},
	SerialWarranty:       {SerialSold, SerialReturned},
	SerialReturned:       {SerialInStock},
	SerialTransferredOut: {SerialInStock},
}

// CanTransition reports whether the lifecycle graph permits from -> to.
func CanTransition(from, to SerialState) bool {
	for _, next := range serialTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// serialLength is the fixed IMEI length.
const serialLength = 15

// ValidateSerial checks the 15-digit numeric format.
func ValidateSerial(serial string) error {
	if len(serial) != serialLength {
		return &MalformedSerialError{Serial: serial}
	}
	for i := 0; i < len(serial); i++ {
		if serial[i] < '0' || serial[i] > '9' {
			return &MalformedSerialError{Serial: serial}
		}
	}
	return nil
}

// duplicateSerialInLines returns the first serial repeated across the given
// line serial slices, or "" if none. Uniqueness within one invoice is
// enforced before submission to the tracker, not by the tracker itself.
func duplicateSerialInLines(lines [][]string) string {
	seen := make(map[string]bool)
	for _, serials := range lines {
		for _, s := range serials {
			if seen[s] {
				return s
			}
			seen[s] = true
		}
	}
	return ""
}
