package core_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"retail-ledger/internal/core"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestEvaluateCredit_ZeroLimitIsUnlimited(t *testing.T) {
	check := core.EvaluateCredit(d("999999"), d("500"), decimal.Zero, false)
	if !check.Allowed {
		t.Errorf("Expected zero limit to allow any balance, got rejection")
	}
	if check.Overridden {
		t.Errorf("Unlimited credit should not count as an override")
	}
}

func TestEvaluateCredit_WithinLimit(t *testing.T) {
	check := core.EvaluateCredit(d("100"), d("400"), d("500"), false)
	if !check.Allowed {
		t.Errorf("Expected 100+400 against limit 500 to pass, got rejection")
	}
	if check.ProjectedBalance.Cmp(d("500")) != 0 {
		t.Errorf("Expected projected balance 500, got %s", check.ProjectedBalance)
	}
}

func TestEvaluateCredit_ExceedsLimit(t *testing.T) {
	check := core.EvaluateCredit(d("100"), d("450"), d("500"), false)
	if check.Allowed {
		t.Errorf("Expected 100+450 against limit 500 to be rejected")
	}
	if check.ProjectedBalance.Cmp(d("550")) != 0 {
		t.Errorf("Expected projected balance 550, got %s", check.ProjectedBalance)
	}
}

func TestEvaluateCredit_AdminOverride(t *testing.T) {
	check := core.EvaluateCredit(d("100"), d("450"), d("500"), true)
	if !check.Allowed {
		t.Errorf("Expected admin to be able to exceed the limit")
	}
	if !check.Overridden {
		t.Errorf("Expected the admin decision to be flagged as an override")
	}
}

func TestEvaluateCredit_AdminWithinLimitNotFlagged(t *testing.T) {
	check := core.EvaluateCredit(d("0"), d("100"), d("500"), true)
	if !check.Allowed || check.Overridden {
		t.Errorf("An admin sale within the limit must not be flagged: allowed=%v overridden=%v",
			check.Allowed, check.Overridden)
	}
}

func TestEvaluateCredit_NegativeBalanceGivesHeadroom(t *testing.T) {
	// A customer in credit (we owe them) can buy past the nominal limit.
	check := core.EvaluateCredit(d("-200"), d("600"), d("500"), false)
	if !check.Allowed {
		t.Errorf("Expected -200+600=400 against limit 500 to pass")
	}
}
