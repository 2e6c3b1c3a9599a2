package domain

import (
	"bytes"
	"testing"

	"github.com/mr-tron/base58"
)

func marketAddr(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

func TestNewMarketKey(t *testing.T) {
	m, err := NewMarketKey(marketAddr(1), marketAddr(2), 10)
	if err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if m.SellToken != marketAddr(1) || m.BuyToken != marketAddr(2) || m.TickSpacing != 10 {
		t.Errorf("unexpected key %+v", m)
	}

	cases := []struct {
		name      string
		sell, buy string
		spacing   int64
	}{
		{"bad sell token", "junk", marketAddr(2), 1},
		{"bad buy token", marketAddr(1), "junk", 1},
		{"same token", marketAddr(1), marketAddr(1), 1},
		{"zero spacing", marketAddr(1), marketAddr(2), 0},
		{"negative spacing", marketAddr(1), marketAddr(2), -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewMarketKey(tc.sell, tc.buy, tc.spacing); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMarketKey_Reversed(t *testing.T) {
	m, err := NewMarketKey(marketAddr(1), marketAddr(2), 10)
	if err != nil {
		t.Fatalf("new key: %v", err)
	}

	r := m.Reversed()
	if r.SellToken != m.BuyToken || r.BuyToken != m.SellToken {
		t.Errorf("tokens not swapped: %+v", r)
	}
	if r.TickSpacing != m.TickSpacing {
		t.Errorf("spacing changed: %d", r.TickSpacing)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("reversed key invalid: %v", err)
	}
	if r.Reversed() != m {
		t.Error("double reversal should restore the original key")
	}
	if r.String() == m.String() {
		t.Error("reversed key must map to a distinct storage key")
	}
}
