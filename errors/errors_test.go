package errors

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestNotOwner(t *testing.T) {
	err := NotOwner("lock ${%s} is not held", "orders")

	if !IsNotOwner(err) {
		t.Errorf("expected NotOwnerError, got: %T", err)
	}
	if IsLostOwnership(err) {
		t.Error("NotOwnerError must not match LostOwnershipError")
	}

	n, ok := AsNotOwner(fmt.Errorf("unlock: %w", err))
	if !ok {
		t.Fatal("expected wrapped NotOwnerError")
	}
	if n.Error() != "lock orders is not held" {
		t.Errorf("unexpected message: %s", n.Error())
	}
	if v, ok := n.Item.(string); !ok || v != "orders" {
		t.Errorf("expected item orders, got: %v", n.Item)
	}
}

func TestLostOwnership(t *testing.T) {
	err := fmt.Errorf("release: %w", LostOwnership("lease for ${%s} was reclaimed", "foo"))

	if !IsLostOwnership(err) {
		t.Errorf("expected LostOwnershipError, got: %T", err)
	}
	if IsNotOwner(err) {
		t.Error("LostOwnershipError must not match NotOwnerError")
	}

	l, _ := AsLostOwnership(err)
	if l.Item != "foo" {
		t.Errorf("expected item foo, got: %v", l.Item)
	}
}

func TestTransientUnwrap(t *testing.T) {
	err := Transient(context.DeadlineExceeded, "acquire")

	if !IsTransient(err) {
		t.Error("expected TransientError")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected wrapped cause")
	}
	if err.Error() != "acquire: context deadline exceeded" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestConfiguration(t *testing.T) {
	cause := New("relation \"int_lock\" does not exist")
	err := Configuration(cause, "lock table %s is missing", "int_lock")

	if !IsConfiguration(err) {
		t.Error("expected ConfigurationError")
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause")
	}
}

func TestValidation(t *testing.T) {
	err := Validation("invalid config").
		AddError(New("ttl must be positive")).
		AddError(nil).
		AddError(New("region is required"))

	if len(err.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(err.Errors))
	}
	want := "invalid config: ttl must be positive; region is required"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestAsCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"not owner", NotOwner("x"), CodeNotOwner},
		{"lost", fmt.Errorf("wrap: %w", LostOwnership("x")), CodeLostOwnership},
		{"transient", Transient(nil, "x"), CodeTransient},
		{"configuration", Configuration(nil, "x"), CodeConfiguration},
		{"validation", Validation("x"), CodeValidation},
		{"plain", New("boom"), CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AsCode(tt.err); got != tt.want {
				t.Errorf("AsCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_parse(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		args     []any
		want     string
		wantItem any
	}{
		{
			name:     "literal",
			format:   "lock ${orders} is not held",
			want:     "lock orders is not held",
			wantItem: "orders",
		},
		{
			name:     "verb",
			format:   "lock ${%s} is not held",
			args:     []any{"orders"},
			want:     "lock %s is not held",
			wantItem: "orders",
		},
		{
			name:     "second verb",
			format:   "holder %s: lock ${%s} is not held",
			args:     []any{"w1", "orders"},
			want:     "holder %s: lock %s is not held",
			wantItem: "orders",
		},
		{
			name:     "indexed verb",
			format:   "lock ${%[2]d} is not held",
			args:     []any{0, 42},
			want:     "lock %[2]d is not held",
			wantItem: 42,
		},
		{
			name:     "escaped percent",
			format:   "100%% of ${%s}",
			args:     []any{"orders"},
			want:     "100%% of %s",
			wantItem: "orders",
		},
		{
			name:   "no marker",
			format: "lock is not held",
			want:   "lock is not held",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, item := parse(tt.format, tt.args...)
			if got != tt.want {
				t.Errorf("parse() got = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(item, tt.wantItem) {
				t.Errorf("parse() item = %v, want %v", item, tt.wantItem)
			}
		})
	}
}
