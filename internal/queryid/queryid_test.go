package queryid

import (
	"testing"

	"github.com/dnscached/dnscached/internal/dnsmessage"
)

func TestTransactionIDVaries(t *testing.T) {
	seen := make(map[uint16]bool)
	for i := 0; i < 64; i++ {
		seen[TransactionID()] = true
	}
	if len(seen) < 32 {
		t.Errorf("TransactionID produced only %d distinct values out of 64 calls", len(seen))
	}
}

func TestHasherQuestionStableAndCaseInsensitive(t *testing.T) {
	h := NewHasher()
	q1 := dnsmessage.Question{Name: "Example.COM.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}
	q2 := dnsmessage.Question{Name: "example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}

	if h.Question(q1) != h.Question(q2) {
		t.Error("Question hash should be case-insensitive on the name")
	}
	if h.Question(q1) != h.Question(q1) {
		t.Error("Question hash should be stable across repeated calls")
	}
}

func TestHasherQuestionSetOrderInsensitive(t *testing.T) {
	h := NewHasher()
	a := dnsmessage.Question{Name: "a.example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}
	b := dnsmessage.Question{Name: "b.example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}

	forward := h.QuestionSet([]dnsmessage.Question{a, b})
	reverse := h.QuestionSet([]dnsmessage.Question{b, a})
	if forward != reverse {
		t.Error("QuestionSet hash should not depend on question order")
	}
}

func TestDifferentHashersDiffer(t *testing.T) {
	h1 := NewHasher()
	h2 := NewHasher()
	q := dnsmessage.Question{Name: "example.com.", Type: dnsmessage.TypeA, Class: dnsmessage.ClassIN}
	// Not a hard guarantee, but with 128 bits of key the odds of an
	// accidental collision across two independent processes are negligible.
	if h1.Question(q) == h2.Question(q) {
		t.Skip("extremely unlikely hash collision between independently keyed hashers")
	}
}
