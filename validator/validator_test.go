package validator

import (
	"testing"
	"time"

	"github.com/enverbisevac/leaselock/errors"
)

func TestHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"not blank", NotBlank(" x "), true},
		{"blank", NotBlank("  "), false},
		{"max runes", MaxRunes("čćž", 3), true},
		{"too many runes", MaxRunes("abcd", 3), false},
		{"between", Between(5*time.Second, time.Second, time.Minute), true},
		{"below range", Between(0, 1, 10), false},
		{"identifier", Matches("int_", RgxIdentifier), true},
		{"identifier with dash", Matches("int-", RgxIdentifier), false},
		{"identifier with leading digit", Matches("1int_", RgxIdentifier), false},
		{"in", In("pgx", "sqlite", "pgx"), true},
		{"not in", In("mysql", "sqlite", "pgx"), false},
		{"positive", Positive(time.Millisecond), true},
		{"zero", Positive(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestValidatorErr(t *testing.T) {
	var v Validator
	if err := v.Err("invalid"); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	v.Check(true, errors.New("never added"))
	v.Check(false, errors.New("region is required"))
	v.AddError(nil, errors.New("ttl must be positive"))

	err := v.Err("invalid config")
	if !errors.IsValidation(err) {
		t.Fatalf("Err() = %T, want *errors.ValidationError", err)
	}
	verr, _ := errors.AsValidation(err)
	if len(verr.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2", len(verr.Errors))
	}
	want := "invalid config: region is required; ttl must be positive"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidate(t *testing.T) {
	first := errors.New("first")
	err := Validate(3,
		func(int) error { return nil },
		func(int) error { return first },
		func(int) error { t.Fatal("validation must stop at the first error"); return nil },
	)
	if err != first {
		t.Errorf("Validate() = %v, want %v", err, first)
	}
}
