package pool

import "testing"

func TestDeriveAddress(t *testing.T) {
	creator := newTestAddress(0x01)
	a := DeriveAddress(creator, 0)
	b := DeriveAddress(creator, 0)
	if a != b {
		t.Fatalf("derivation is not deterministic: %s vs %s", a.Hex(), b.Hex())
	}
	if a == DeriveAddress(creator, 1) {
		t.Fatal("nonce does not differentiate addresses")
	}
	if a == DeriveAddress(newTestAddress(0x02), 0) {
		t.Fatal("creator does not differentiate addresses")
	}
}
