// Package status defines the error taxonomy shared by the master, the chunk
// servers and the client. Errors travel over net/rpc as plain strings, so
// every error message starts with the text of its sentinel and FromRPCError
// restores the sentinel on the receiving side.
package status

import (
	"errors"
	"fmt"
	"net/rpc"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnavailable     = errors.New("unavailable")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal")
)

var codes = []error{
	ErrNotFound,
	ErrAlreadyExists,
	ErrUnavailable,
	ErrInvalidArgument,
	ErrInternal,
}

// Errorf wraps code with a formatted message.
func Errorf(code error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", code, fmt.Sprintf(format, args...))
}

// Code returns the taxonomy sentinel err belongs to. Errors outside the
// taxonomy are reported as ErrInternal.
func Code(err error) error {
	if err == nil {
		return nil
	}

	for _, code := range codes {
		if errors.Is(err, code) {
			return code
		}
	}

	return ErrInternal
}

// Is reports whether err belongs to code.
func Is(err, code error) bool {
	return err != nil && Code(err) == code
}

// FromRPCError turns an rpc.ServerError back into a wrapped sentinel.
// Transport failures (anything that is not a ServerError) become ErrInternal.
func FromRPCError(err error) error {
	if err == nil {
		return nil
	}

	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		if Code(err) != ErrInternal || errors.Is(err, ErrInternal) {
			return err
		}

		return fmt.Errorf("%w: %s", ErrInternal, err.Error())
	}

	msg := string(serverErr)
	for _, code := range codes {
		if strings.HasPrefix(msg, code.Error()) {
			rest := strings.TrimPrefix(strings.TrimPrefix(msg, code.Error()), ": ")
			if rest == "" {
				return code
			}

			return fmt.Errorf("%w: %s", code, rest)
		}
	}

	return fmt.Errorf("%w: %s", ErrInternal, msg)
}
