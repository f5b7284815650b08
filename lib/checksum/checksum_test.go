package checksum

import "testing"

func TestCalculateCheckSum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := CalculateCheckSum([]byte("abc")); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	if !Verify([]byte("abc"), want) {
		t.Fatalf("verify failed for matching digest")
	}

	if Verify([]byte("abd"), want) {
		t.Fatalf("verify passed for different data")
	}
}
