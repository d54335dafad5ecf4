package extractor

import "testing"

func TestDecideIdenticalContentIsNoOp(t *testing.T) {
	u := NewUpdater(false)
	d := u.Decide("Alice likes espresso.", nil, "Alice likes espresso.", nil)
	if d.Action != ActionNoOp {
		t.Fatalf("expected NoOp, got %s", d.Action)
	}
}

func TestDecideContradictionCreates(t *testing.T) {
	u := NewUpdater(false)
	d := u.Decide("Alice no longer likes espresso.", nil, "Alice likes espresso.", nil)
	if d.Action != ActionCreate {
		t.Fatalf("expected Create, got %s: %s", d.Action, d.Reason)
	}
}

func TestDecideStrictSupersetSupersedesWhenAllowed(t *testing.T) {
	u := NewUpdater(true)
	d := u.Decide(
		"Alice likes espresso with oat milk in the morning before work.", []string{"Alice", "espresso", "oat milk"},
		"Alice likes espresso.", []string{"Alice", "espresso"},
	)
	if d.Action != ActionSupersede {
		t.Fatalf("expected Supersede, got %s: %s", d.Action, d.Reason)
	}
}

func TestDecideStrictSupersetMergesWhenSupersedeDisallowed(t *testing.T) {
	u := NewUpdater(false)
	d := u.Decide(
		"Alice likes espresso with oat milk in the morning before work.", []string{"Alice", "espresso", "oat milk"},
		"Alice likes espresso.", []string{"Alice", "espresso"},
	)
	if d.Action != ActionMerge {
		t.Fatalf("expected Merge when supersede is disallowed, got %s: %s", d.Action, d.Reason)
	}
}

func TestDecideRewordingUpdatesInPlace(t *testing.T) {
	u := NewUpdater(false)
	d := u.Decide(
		"Alice prefers her coffee with a splash of oat milk and no sugar in the morning.", nil,
		"Alice prefers her coffee with a splash of oat milk and no sugar each morning.", nil,
	)
	if d.Action != ActionUpdate {
		t.Fatalf("expected Update for a near-identical reword, got %s: %s", d.Action, d.Reason)
	}
}

func TestDecideDifferentStatementMerges(t *testing.T) {
	u := NewUpdater(false)
	d := u.Decide(
		"Alice likes espresso in the morning before her commute.", nil,
		"Alice likes espresso in the morning before work.", nil,
	)
	if d.Action != ActionMerge {
		t.Fatalf("expected Merge, got %s: %s", d.Action, d.Reason)
	}
}
