package merkle

import "testing"

func TestRootEmpty(t *testing.T) {
	if got := Root(nil); got != "" {
		t.Fatalf("Root(nil) = %q, want empty string", got)
	}
}

func TestRootSingleLeaf(t *testing.T) {
	leaf := SHA256Hex("a")
	if got := Root([]string{leaf}); got != leaf {
		t.Fatalf("Root(single) = %q, want %q", got, leaf)
	}
}

func TestRootOddDuplicatesLast(t *testing.T) {
	a, b, c := SHA256Hex("a"), SHA256Hex("b"), SHA256Hex("c")

	withDup := Root([]string{a, b, c, c})
	withoutDup := Root([]string{a, b, c})
	if withDup != withoutDup {
		t.Fatalf("odd-length root %q should equal explicit-duplicate root %q", withoutDup, withDup)
	}
}

func TestRootIsDeterministicAndOrderSensitive(t *testing.T) {
	a, b := SHA256Hex("a"), SHA256Hex("b")
	r1 := Root([]string{a, b})
	r2 := Root([]string{a, b})
	if r1 != r2 {
		t.Fatalf("Root is not deterministic: %q != %q", r1, r2)
	}
	if Root([]string{b, a}) == r1 {
		t.Fatalf("Root should be sensitive to leaf order")
	}
}

func TestSHA256HexKnownVector(t *testing.T) {
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := SHA256Hex("abc"); got != want {
		t.Fatalf("SHA256Hex(abc) = %s, want %s", got, want)
	}
}
