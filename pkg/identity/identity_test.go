package identity

import (
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := SHA256([]byte("hello world"))
	sig, err := id.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := Verify(id.ParticipantID, digest, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("signature did not verify")
	}
}

func TestVerifyTamperedMessageFails(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest := SHA256([]byte("original"))
	sig, err := id.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tampered := SHA256([]byte("tampered"))
	ok, err := Verify(id.ParticipantID, tampered, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("tampered message unexpectedly verified")
	}
}

func TestFromHexKeyDeterministic(t *testing.T) {
	key := "0101010101010101010101010101010101010101010101010101010101010101"[:64]
	a, err := FromHexKey(key)
	if err != nil {
		t.Fatalf("from hex key: %v", err)
	}
	b, err := FromHexKey(key)
	if err != nil {
		t.Fatalf("from hex key: %v", err)
	}
	if a.ParticipantID != b.ParticipantID {
		t.Fatalf("same key material produced different participant ids")
	}
}

func TestCanonicalizeSortsKeysAtEveryLevel(t *testing.T) {
	a := map[string]interface{}{
		"zebra": map[string]interface{}{"b": 2, "a": 1},
		"apple": 1,
	}
	b := map[string]interface{}{
		"apple": 1,
		"zebra": map[string]interface{}{"a": 1, "b": 2},
	}
	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("canonicalize a: %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("canonicalize b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("canonical forms differ:\n%s\n%s", ca, cb)
	}
	want := `{"apple":1,"zebra":{"a":1,"b":2}}`
	if string(ca) != want {
		t.Fatalf("got %s, want %s", ca, want)
	}
}

func TestCanonicalizeRejectsFloats(t *testing.T) {
	_, err := Canonicalize(map[string]interface{}{"x": 1.5})
	if err != ErrFloatNotAllowed {
		t.Fatalf("expected ErrFloatNotAllowed, got %v", err)
	}
}
