package provider

import (
	"strings"
	"testing"
)

func TestIdentityDisambiguatesEqualNames(t *testing.T) {
	a := New("same-name", func(r *Ref) int { return 1 })
	b := New("same-name", func(r *Ref) int { return 2 })

	if a.Identity() == b.Identity() {
		t.Fatal("two providers share an identity")
	}
	if a.Identity().Name() != b.Identity().Name() {
		t.Error("names differ for equally named providers")
	}

	s := NewScope()
	defer s.Dispose()
	if got := Read(s, a); got != 1 {
		t.Errorf("a = %d, want 1", got)
	}
	if got := Read(s, b); got != 2 {
		t.Errorf("b = %d, want 2", got)
	}
}

func TestIdentityString(t *testing.T) {
	p := New("printable", func(r *Ref) int { return 0 })
	id := p.Identity()
	if !strings.HasPrefix(id.String(), "printable#") {
		t.Errorf("String() = %q, want printable#<serial>", id)
	}
	if id.IsZero() {
		t.Error("constructed identity reports zero")
	}
	if !(Identity{}).IsZero() {
		t.Error("zero identity does not report zero")
	}
}

func TestAsyncValueAccessors(t *testing.T) {
	if v := LoadingOf[int](); !v.IsLoading() || v.Reloading() {
		t.Errorf("LoadingOf = %v, want plain loading", v)
	}
	d := DataOf(3)
	if !d.IsData() {
		t.Errorf("DataOf = %v, want data", d)
	}
	if got, ok := d.Data(); !ok || got != 3 {
		t.Errorf("Data() = %d, %v, want 3, true", got, ok)
	}
	if d.Err() != nil {
		t.Errorf("data arm Err() = %v, want nil", d.Err())
	}
	e := ErrorOf[int](errTest)
	if !e.IsError() || e.Err() != errTest {
		t.Errorf("ErrorOf = %v", e)
	}
	if _, ok := e.Data(); ok {
		t.Error("error arm reports data")
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test error" }

func TestAsyncValueString(t *testing.T) {
	if got := DataOf("x").String(); got != "Data(x)" {
		t.Errorf("String = %q", got)
	}
	if got := LoadingOf[string]().String(); got != "Loading" {
		t.Errorf("String = %q", got)
	}
	if got := ErrorOf[string](errTest).String(); got != "Error(test error)" {
		t.Errorf("String = %q", got)
	}
}
