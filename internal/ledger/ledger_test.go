package ledger

import (
	"errors"
	"reflect"
	"testing"
)

func TestDeficitAndSurplus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		holdings    Resources
		quota       Resources
		wantDeficit Resources
		wantSurplus Resources
	}{
		{
			name:        "mixed",
			holdings:    Resources{"wood": 5, "gold": 0},
			quota:       Resources{"wood": 3, "wheat": 2},
			wantDeficit: Resources{"wheat": 2},
			wantSurplus: Resources{"wood": 2},
		},
		{
			name:        "empty quota gives every positive holding",
			holdings:    Resources{"wood": 1, "stone": 0, "gold": 4},
			quota:       Resources{},
			wantDeficit: Resources{},
			wantSurplus: Resources{"wood": 1, "gold": 4},
		},
		{
			name:        "gold is surplus even when listed in quota",
			holdings:    Resources{"gold": 3},
			quota:       Resources{"gold": 5},
			wantDeficit: Resources{"gold": 2},
			wantSurplus: Resources{"gold": 3},
		},
		{
			name:        "negative holdings count as zero",
			holdings:    Resources{"wood": -4},
			quota:       Resources{"wood": 1},
			wantDeficit: Resources{"wood": 1},
			wantSurplus: Resources{},
		},
		{
			name:        "exactly met",
			holdings:    Resources{"cloth": 2},
			quota:       Resources{"cloth": 2},
			wantDeficit: Resources{},
			wantSurplus: Resources{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := Deficit(test.holdings, test.quota); !reflect.DeepEqual(got, test.wantDeficit) {
				t.Errorf("Deficit = %v, want %v", got, test.wantDeficit)
			}
			if got := Surplus(test.holdings, test.quota, "gold"); !reflect.DeepEqual(got, test.wantSurplus) {
				t.Errorf("Surplus = %v, want %v", got, test.wantSurplus)
			}
		})
	}
}

func TestDeficitSurplusMembership(t *testing.T) {
	t.Parallel()

	holdings := Resources{"a": 0, "b": 1, "c": 2, "d": 3, "gold": 2}
	quota := Resources{"a": 1, "b": 1, "c": 1, "e": 2}
	deficit := Deficit(holdings, quota)
	surplus := Surplus(holdings, quota, "gold")

	for _, material := range []string{"a", "b", "c", "d", "e", "gold"} {
		_, inDeficit := deficit[material]
		if want := holdings.Get(material) < quota.Get(material); inDeficit != want {
			t.Errorf("%s in deficit = %v, want %v", material, inDeficit, want)
		}
		_, inSurplus := surplus[material]
		want := holdings.Get(material) > quota.Get(material)
		if material == "gold" {
			want = holdings.Get(material) > 0
		}
		if inSurplus != want {
			t.Errorf("%s in surplus = %v, want %v", material, inSurplus, want)
		}
	}

	if ObjectiveMet(holdings, quota) {
		t.Error("ObjectiveMet = true with a non-empty deficit")
	}
	if !ObjectiveMet(Resources{"a": 1}, Resources{"a": 1}) {
		t.Error("ObjectiveMet = false with an empty deficit")
	}
}

func TestCheckSend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		holdings Resources
		quota    Resources
		send     Resources
		wantErr  error
	}{
		{"would drop to zero below quota", Resources{"wood": 2}, Resources{"wood": 1}, Resources{"wood": 2}, ErrBelowQuota},
		{"keeps quota", Resources{"wood": 3}, Resources{"wood": 1}, Resources{"wood": 2}, nil},
		{"more than held", Resources{"wood": 1}, Resources{}, Resources{"wood": 2}, ErrInsufficientStock},
		{"unknown material", Resources{}, Resources{}, Resources{"iron": 1}, ErrInsufficientStock},
		{"gold while still short", Resources{"gold": 2, "wood": 0}, Resources{"wood": 1}, Resources{"gold": 2}, nil},
		{"gold after objective", Resources{"gold": 2, "wood": 1}, Resources{"wood": 1}, Resources{"gold": 1}, ErrGoldLocked},
		{"one bad entry rejects all", Resources{"wood": 5, "stone": 1}, Resources{"stone": 1}, Resources{"wood": 1, "stone": 1}, ErrBelowQuota},
		{"empty", Resources{"wood": 5}, Resources{}, Resources{}, ErrEmptyPackage},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			book := New("gold")
			book.Reset(test.holdings, test.quota)
			err := book.CheckSend(test.send)
			if test.wantErr == nil {
				if err != nil {
					t.Fatalf("CheckSend: %v", err)
				}
				return
			}
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("CheckSend error = %v, want %v", err, test.wantErr)
			}
		})
	}
}

func TestDeductRecomputes(t *testing.T) {
	t.Parallel()

	book := New("gold")
	book.Reset(Resources{"wood": 3, "gold": 1}, Resources{"wood": 1, "wheat": 1})
	if err := book.CheckSend(Resources{"wood": 2}); err != nil {
		t.Fatalf("CheckSend: %v", err)
	}
	book.Deduct(Resources{"wood": 2, "gold": 5})

	wantHoldings := Resources{"wood": 1, "gold": 0}
	if got := book.Holdings(); !reflect.DeepEqual(got, wantHoldings) {
		t.Errorf("Holdings = %v, want %v", got, wantHoldings)
	}
	if got, want := book.Deficit(), Deficit(wantHoldings, book.Quota()); !reflect.DeepEqual(got, want) {
		t.Errorf("Deficit = %v, want %v", got, want)
	}
	if got, want := book.Surplus(), Surplus(wantHoldings, book.Quota(), "gold"); !reflect.DeepEqual(got, want) {
		t.Errorf("Surplus = %v, want %v", got, want)
	}
}

func TestResetReplacesState(t *testing.T) {
	t.Parallel()

	book := New("")
	if book.Gold != DefaultGold {
		t.Fatalf("Gold = %q, want %q", book.Gold, DefaultGold)
	}
	book.Reset(Resources{"madera": 4}, Resources{"madera": 1})
	book.Reset(Resources{"trigo": 1}, nil)

	if got := book.Holdings(); !reflect.DeepEqual(got, Resources{"trigo": 1}) {
		t.Errorf("Holdings = %v, want only trigo", got)
	}
	if !book.ObjectiveMet() {
		t.Error("ObjectiveMet = false with an empty quota")
	}

	held := book.Holdings()
	held["trigo"] = 99
	if book.Holdings()["trigo"] != 1 {
		t.Error("Holdings returned a shared map")
	}
}

func TestNeverGiveAndString(t *testing.T) {
	t.Parallel()

	got := NeverGive(Resources{"wood": 1, "stone": 5, "cloth": 0}, Resources{"wood": 2, "wheat": 1})
	want := []string{"cloth", "wheat", "wood"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NeverGive = %v, want %v", got, want)
	}

	if s := (Resources{"wood": 2, "cloth": 1}).String(); s != "1 cloth, 2 wood" {
		t.Errorf("String = %q", s)
	}
	if s := (Resources{}).String(); s != "nothing" {
		t.Errorf("String = %q, want nothing", s)
	}
}
