package links

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("supplier", RequireEntityID); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("supplier", RequireEntityID); err == nil {
		t.Error("duplicate kind registered without error")
	}
	if err := r.Register("", RequireEntityID); err == nil {
		t.Error("empty kind registered without error")
	}
	if err := r.Register("invoice", nil); err == nil {
		t.Error("nil validator registered without error")
	}
}

func TestKindsSorted(t *testing.T) {
	r := NewRegistry()
	for _, kind := range []string{"supplier", "contact", "invoice"} {
		if err := r.Register(kind, RequireEntityID); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"contact", "invoice", "supplier"}
	if got := r.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	rejected := errors.New("record is archived")
	if err := r.Register("supplier", RequireEntityID); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("invoice", func(ctx context.Context, entityID string) error {
		return rejected
	}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	if err := r.Validate(ctx, "supplier", "SUP-1"); err != nil {
		t.Errorf("valid pair rejected: %v", err)
	}
	if err := r.Validate(ctx, "supplier", ""); err == nil {
		t.Error("empty entity id accepted")
	}
	if err := r.Validate(ctx, "purchase_order", "PO-1"); err == nil {
		t.Error("unknown kind accepted")
	}
	if err := r.Validate(ctx, "invoice", "INV-1"); !errors.Is(err, rejected) {
		t.Errorf("validator verdict not propagated: %v", err)
	}
}
