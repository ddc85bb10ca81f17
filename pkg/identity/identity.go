// Package identity derives one synthetic test user per parallel worker.
//
// Each worker gets its own e-mail address and therefore its own session
// cache slot, so concurrent workers never race on the same cached state.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEmail is returned when the base address does not contain
	// exactly one '@' with text on both sides.
	ErrInvalidEmail = errors.New("invalid base email")

	// ErrInvalidWorker is returned for negative worker indices.
	ErrInvalidWorker = errors.New("invalid worker index")
)

// Identity is the user a worker logs in as.
type Identity struct {
	// Email is the base address with the worker index appended to the
	// local part: qa@example.com, worker 3 -> qa_3@example.com.
	Email string

	// CacheKey names the storage-state file for this identity.
	CacheKey string

	WorkerIndex int
}

// Resolve returns the identity of a worker. It is deterministic and has no
// side effects.
func Resolve(baseEmail string, workerIndex int) (Identity, error) {
	if workerIndex < 0 {
		return Identity{}, fmt.Errorf("%w: %d", ErrInvalidWorker, workerIndex)
	}
	local, domain, err := split(baseEmail)
	if err != nil {
		return Identity{}, err
	}

	email := fmt.Sprintf("%s_%d@%s", local, workerIndex, domain)
	return Identity{
		Email:       email,
		CacheKey:    CacheKey(email),
		WorkerIndex: workerIndex,
	}, nil
}

func split(email string) (local, domain string, err error) {
	if strings.Count(email, "@") != 1 {
		return "", "", fmt.Errorf("%w: %q must contain exactly one '@'", ErrInvalidEmail, email)
	}
	local, domain, _ = strings.Cut(email, "@")
	if local == "" || domain == "" {
		return "", "", fmt.Errorf("%w: %q has an empty local part or domain", ErrInvalidEmail, email)
	}
	return local, domain, nil
}

// CacheKey makes s safe to use as a file name: every character outside
// [A-Za-z0-9_.-] becomes '_'.
func CacheKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
