package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseInstantiate,
				Kind:   KindLink,
				Detail: "import type mismatch",
				Args:   []any{"env.memory"},
			},
			contains: []string{"[instantiate]", "link_error", "import type mismatch", "env.memory"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRuntime,
				Kind:  KindOutOfBoundsMemory,
			},
			contains: []string{"[runtime]", "out_of_bounds_memory_access"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLoad,
				Kind:   KindInvalidModule,
				Detail: "truncated object code",
				Cause:  errors.New("unexpected EOF"),
			},
			contains: []string{"[load]", "invalid_module", "truncated object code", "caused by", "unexpected EOF"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseLoad, KindInvalidModule, cause, "decode failed")
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestError_Is(t *testing.T) {
	oob := OutOfBoundsMemory(nil, 65537)

	if !errors.Is(oob, &Error{Phase: PhaseRuntime, Kind: KindOutOfBoundsMemory}) {
		t.Error("Is should match on phase and kind")
	}
	if errors.Is(oob, &Error{Phase: PhaseRuntime, Kind: KindOutOfBoundsTable}) {
		t.Error("Is should not match a different kind")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseCompartment, KindResourceIDExhausted).
		Detail("no free %s ids", "table").
		Arg(uint32(256)).
		Build()

	if err.Phase != PhaseCompartment || err.Kind != KindResourceIDExhausted {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if err.Detail != "no free table ids" {
		t.Errorf("unexpected detail: %q", err.Detail)
	}
	if len(err.Args) != 1 {
		t.Errorf("expected 1 arg, got %d", len(err.Args))
	}
}

func TestConvenienceConstructors(t *testing.T) {
	if err := ResourceIDExhausted("memory"); err.Kind != KindResourceIDExhausted {
		t.Errorf("unexpected kind %s", err.Kind)
	}
	if err := TooManyMutableGlobals(); err.Kind != KindTooManyMutableGlobals {
		t.Errorf("unexpected kind %s", err.Kind)
	}
	if err := UnimplementedIntrinsic("memory.grow"); !strings.Contains(err.Error(), "memory.grow") {
		t.Errorf("intrinsic name missing from %q", err.Error())
	}
	if err := Link("duplicate export %q", "main"); err.Kind != KindLink {
		t.Errorf("unexpected kind %s", err.Kind)
	}
}
