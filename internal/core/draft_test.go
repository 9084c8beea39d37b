package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

func validSaleDraft() core.InvoiceDraft {
	return core.InvoiceDraft{
		Kind:        core.InvoiceSale,
		BranchID:    1,
		PartyID:     1,
		InvoiceDate: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("2"), UnitPrice: d("120.500")},
		},
		CommitterRole: core.RoleStaff,
		CommitterName: "tester",
	}
}

func TestInvoiceDraft_NormalizeDefaults(t *testing.T) {
	draft := validSaleDraft()
	draft.Currency = "  usd "
	draft.Number = " SI-001 "
	draft.Normalize()

	if draft.Currency != "USD" {
		t.Errorf("Expected currency USD, got %q", draft.Currency)
	}
	if draft.Number != "SI-001" {
		t.Errorf("Expected trimmed number, got %q", draft.Number)
	}
	if !draft.FxRate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected zero fx rate to default to 1, got %s", draft.FxRate)
	}

	draft = validSaleDraft()
	draft.Normalize()
	if draft.Currency != core.BaseCurrency {
		t.Errorf("Expected empty currency to default to %s, got %q", core.BaseCurrency, draft.Currency)
	}
	if draft.CommitterRole != core.RoleStaff {
		t.Errorf("Expected empty role to default to staff, got %q", draft.CommitterRole)
	}
}

func TestInvoiceDraft_Validate(t *testing.T) {
	draft := validSaleDraft()
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		t.Fatalf("Expected valid draft to pass, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*core.InvoiceDraft)
	}{
		{"missing branch", func(d *core.InvoiceDraft) { d.BranchID = 0 }},
		{"missing party", func(d *core.InvoiceDraft) { d.PartyID = 0 }},
		{"missing date", func(d *core.InvoiceDraft) { d.InvoiceDate = time.Time{} }},
		{"no lines", func(d *core.InvoiceDraft) { d.Lines = nil }},
		{"zero quantity", func(d *core.InvoiceDraft) { d.Lines[0].Quantity = decimal.Zero }},
		{"negative price", func(d *core.InvoiceDraft) { d.Lines[0].UnitPrice = d2("-1") }},
		{"missing item", func(d *core.InvoiceDraft) { d.Lines[0].ItemID = 0 }},
		{"bad currency", func(d *core.InvoiceDraft) { d.Currency = "KWDD" }},
		{"negative fx rate", func(d *core.InvoiceDraft) { d.FxRate = d2("-0.5") }},
	}
	for _, tc := range cases {
		draft := validSaleDraft()
		draft.Normalize()
		tc.mutate(&draft)
		err := draft.Validate()
		if err == nil {
			t.Errorf("%s: expected rejection", tc.name)
			continue
		}
		var verr *core.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("%s: expected ValidationError, got %T", tc.name, err)
		}
	}
}

// d2 exists so table literals can shadow the package-level helper d.
func d2(s string) decimal.Decimal { return d(s) }

func TestInvoiceDraft_Validate_SerialRules(t *testing.T) {
	draft := validSaleDraft()
	draft.Lines[0].Serials = []string{"356938035643809", "356938035643810"}
	draft.Normalize()
	if err := draft.Validate(); err != nil {
		t.Fatalf("Expected serialed draft to pass, got %v", err)
	}

	// Serial count must match quantity.
	draft = validSaleDraft()
	draft.Lines[0].Serials = []string{"356938035643809"}
	draft.Normalize()
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected 1 serial for quantity 2 to be rejected")
	}

	// Malformed serial.
	draft = validSaleDraft()
	draft.Lines[0].Serials = []string{"356938035643809", "not-a-serial"}
	draft.Normalize()
	var malformed *core.MalformedSerialError
	if err := draft.Validate(); !errors.As(err, &malformed) {
		t.Errorf("Expected MalformedSerialError, got %v", err)
	}

	// Same serial twice across lines of one invoice.
	draft = validSaleDraft()
	draft.Lines = []core.LineDraft{
		{ItemID: 1, Quantity: d("1"), UnitPrice: d("120"), Serials: []string{"356938035643809"}},
		{ItemID: 2, Quantity: d("1"), UnitPrice: d("80"), Serials: []string{"356938035643809"}},
	}
	draft.Normalize()
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected duplicate serial across lines to be rejected")
	}
}

func TestInvoiceDraft_TotalSumsRoundedLines(t *testing.T) {
	// Each line rounds to 3 decimals before summing, so the header total is
	// exactly the sum of the stored line totals.
	draft := core.InvoiceDraft{
		Kind:        core.InvoiceSale,
		BranchID:    1,
		PartyID:     1,
		InvoiceDate: time.Now(),
		FxRate:      d("0.3075"),
		Currency:    "USD",
		Lines: []core.LineDraft{
			{ItemID: 1, Quantity: d("3"), UnitPrice: d("1.11")},
			{ItemID: 2, Quantity: d("3"), UnitPrice: d("1.11")},
		},
	}
	line := draft.LineTotal(draft.Lines[0])
	if line.Cmp(d("1.024")) != 0 {
		t.Errorf("Expected line total 1.024, got %s", line)
	}
	if draft.Total().Cmp(d("2.048")) != 0 {
		t.Errorf("Expected total 2.048, got %s", draft.Total())
	}
}

func TestTransferDraft_Validate(t *testing.T) {
	draft := core.TransferDraft{
		FromBranchID: 1,
		ToBranchID:   2,
		TransferDate: time.Now(),
		Lines:        []core.LineDraft{{ItemID: 1, Quantity: d("5")}},
	}
	if err := draft.Validate(); err != nil {
		t.Fatalf("Expected valid transfer to pass, got %v", err)
	}

	draft.ToBranchID = 1
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected same-branch transfer to be rejected")
	}
}

func TestPaymentDraft_Validate(t *testing.T) {
	draft := core.PaymentDraft{
		BranchID:    1,
		PartyID:     1,
		AccountID:   1,
		Direction:   "in",
		Amount:      d("50"),
		PaymentDate: time.Now(),
	}
	if err := draft.Validate(); err != nil {
		t.Fatalf("Expected valid payment to pass, got %v", err)
	}

	draft.Direction = "incoming"
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected unknown direction to be rejected")
	}
	draft.Direction = "in"
	draft.Amount = d("-50")
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected negative amount to be rejected")
	}
}

func TestExpenseDraft_Validate(t *testing.T) {
	draft := core.ExpenseDraft{
		BranchID:    1,
		AccountID:   1,
		Amount:      d("12.5"),
		Category:    "utilities",
		ExpenseDate: time.Now(),
	}
	if err := draft.Validate(); err != nil {
		t.Fatalf("Expected valid expense to pass, got %v", err)
	}

	draft.Category = ""
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected missing category to be rejected")
	}
}

func TestReturnDraft_Validate(t *testing.T) {
	draft := core.ReturnDraft{
		Kind:              core.InvoiceSaleReturn,
		OriginalInvoiceID: 10,
		ReturnDate:        time.Now(),
		Lines:             []core.LineDraft{{ItemID: 1, Quantity: d("1")}},
	}
	if err := draft.Validate(); err != nil {
		t.Fatalf("Expected valid return to pass, got %v", err)
	}

	draft.Kind = core.InvoiceSale
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected non-return kind to be rejected")
	}
	draft.Kind = core.InvoiceSaleReturn
	draft.OriginalInvoiceID = 0
	if err := draft.Validate(); err == nil {
		t.Errorf("Expected missing original reference to be rejected")
	}
}
