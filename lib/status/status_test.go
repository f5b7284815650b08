package status

import (
	"errors"
	"fmt"
	"net/rpc"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{Errorf(ErrNotFound, "file %s", "/a"), ErrNotFound},
		{fmt.Errorf("open: %w", Errorf(ErrAlreadyExists, "file /a")), ErrAlreadyExists},
		{errors.New("boom"), ErrInternal},
		{ErrUnavailable, ErrUnavailable},
	}

	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Fatalf("Code(%v) = %v, want %v", c.err, got, c.want)
		}
	}

	if Code(nil) != nil {
		t.Fatalf("nil error should have nil code")
	}
}

func TestFromRPCError(t *testing.T) {
	orig := Errorf(ErrNotFound, "file %s", "/f")
	restored := FromRPCError(rpc.ServerError(orig.Error()))

	if !errors.Is(restored, ErrNotFound) {
		t.Fatalf("expected not found, got %v", restored)
	}

	if restored.Error() != orig.Error() {
		t.Fatalf("message changed: %q != %q", restored.Error(), orig.Error())
	}

	unknown := FromRPCError(rpc.ServerError("something else"))
	if !errors.Is(unknown, ErrInternal) {
		t.Fatalf("expected internal, got %v", unknown)
	}

	transport := FromRPCError(rpc.ErrShutdown)
	if !errors.Is(transport, ErrInternal) {
		t.Fatalf("expected transport error to be internal, got %v", transport)
	}

	if FromRPCError(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}
