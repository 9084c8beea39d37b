package core_test

import (
	"errors"
	"testing"

	"retail-ledger/internal/core"
)

func TestValidateSerial(t *testing.T) {
	if err := core.ValidateSerial("356938035643809"); err != nil {
		t.Errorf("Expected a 15-digit serial to validate, got %v", err)
	}

	bad := []string{
		"",
		"12345",
		"3569380356438091",
		"35693803564380a",
		"35693803564 809",
	}
	for _, serial := range bad {
		err := core.ValidateSerial(serial)
		if err == nil {
			t.Errorf("Expected serial %q to be rejected", serial)
			continue
		}
		var malformed *core.MalformedSerialError
		if !errors.As(err, &malformed) {
			t.Errorf("Expected MalformedSerialError for %q, got %T", serial, err)
		}
	}
}

func TestCanTransition_Lifecycle(t *testing.T) {
	allowed := []struct{ from, to core.SerialState }{
		{core.SerialInStock, core.SerialSold},
		{core.SerialInStock, core.SerialTransferredOut},
		{core.SerialSold, core.SerialReturned},
		{core.SerialSold, core.SerialWarranty},
		{core.SerialWarranty, core.SerialSold},
		{core.SerialWarranty, core.SerialReturned},
		{core.SerialReturned, core.SerialInStock},
		{core.SerialTransferredOut, core.SerialInStock},
	}
	for _, tc := range allowed {
		if !core.CanTransition(tc.from, tc.to) {
			t.Errorf("Expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to core.SerialState }{
		{core.SerialInStock, core.SerialReturned},
		{core.SerialInStock, core.SerialWarranty},
		{core.SerialSold, core.SerialInStock},
		{core.SerialSold, core.SerialSold},
		{core.SerialReturned, core.SerialSold},
		{core.SerialTransferredOut, core.SerialSold},
		{core.SerialWarranty, core.SerialInStock},
	}
	for _, tc := range forbidden {
		if core.CanTransition(tc.from, tc.to) {
			t.Errorf("Expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestCanTransition_UnitCanCycle(t *testing.T) {
	// Sold unit comes back, restocks, and sells again.
	path := []core.SerialState{
		core.SerialInStock, core.SerialSold, core.SerialReturned,
		core.SerialInStock, core.SerialSold,
	}
	for i := 1; i < len(path); i++ {
		if !core.CanTransition(path[i-1], path[i]) {
			t.Fatalf("Cycle broken at %s -> %s", path[i-1], path[i])
		}
	}
}
