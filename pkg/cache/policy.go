package cache

import (
	"fmt"
	"slices"
	"time"
)

// Policy decides which entries an eviction scan removes.
type Policy interface {
	// Select returns the entries to remove, in removal order.
	Select(entries []Entry, now time.Time) []Entry

	// Name identifies the policy in logs.
	Name() string
}

// PolicyType names a built-in policy.
type PolicyType string

const (
	PolicyAge  PolicyType = "age"
	PolicySize PolicyType = "size"
)

// NewPolicy builds a policy from its type. maxBytes is only used by the
// size policy.
func NewPolicy(t PolicyType, expiry time.Duration, maxBytes int64) (Policy, error) {
	switch t {
	case PolicyAge, "":
		return AgePolicy{Expiry: expiry}, nil
	case PolicySize:
		if maxBytes <= 0 {
			return nil, fmt.Errorf("size policy requires a positive byte budget, got %d", maxBytes)
		}
		return SizePolicy{Expiry: expiry, MaxBytes: maxBytes}, nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", t)
	}
}

// AgePolicy removes every entry not accessed within Expiry.
type AgePolicy struct {
	Expiry time.Duration
}

// Name implements Policy.
func (p AgePolicy) Name() string { return string(PolicyAge) }

// Select implements Policy.
func (p AgePolicy) Select(entries []Entry, now time.Time) []Entry {
	return expired(entries, now, p.Expiry)
}

// SizePolicy keeps the total cache size within MaxBytes. When over budget,
// it removes entries older than Expiry, least recently accessed first,
// until the total fits. Entries accessed within Expiry are never removed,
// so the budget is a soft limit while everything is fresh.
type SizePolicy struct {
	Expiry   time.Duration
	MaxBytes int64
}

// Name implements Policy.
func (p SizePolicy) Name() string { return string(PolicySize) }

// Select implements Policy.
func (p SizePolicy) Select(entries []Entry, now time.Time) []Entry {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= p.MaxBytes {
		return nil
	}

	candidates := expired(entries, now, p.Expiry)
	slices.SortFunc(candidates, func(a, b Entry) int {
		return a.ModTime.Compare(b.ModTime)
	})

	var victims []Entry
	for _, c := range candidates {
		if total <= p.MaxBytes {
			break
		}
		victims = append(victims, c)
		total -= c.Size
	}
	return victims
}

func expired(entries []Entry, now time.Time, expiry time.Duration) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Age(now) > expiry {
			out = append(out, e)
		}
	}
	return out
}
