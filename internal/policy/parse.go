package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// ParseDuration accepts the grammar in §4.1: an unsigned integer followed
// by one of ns|us|ms|s|m|h|d|w|y. time.ParseDuration stops at h, so the
// units up to w are delegated to str2duration, which speaks d/w; y (365
// days) is handled here.
func ParseDuration(raw string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(raw, "y"); ok {
		years, err := strconv.ParseUint(n, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("policy: invalid duration %q: %w", raw, err)
		}
		return time.Duration(years) * 365 * 24 * time.Hour, nil
	}
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("policy: invalid duration %q: %w", raw, err)
	}
	return d, nil
}

// ParseSize accepts binary-unit human-readable sizes (1 MiB = 2^20 B).
func ParseSize(raw string) (int64, error) {
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("policy: invalid size %q: %w", raw, err)
	}
	return int64(n), nil
}

// ParseCount accepts a non-negative integer (revisions).
func ParseCount(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("policy: invalid count %q", raw)
	}
	return n, nil
}

// ParsePattern compiles a full-match regex. Policies "fully match" their
// subject, so raw is wrapped with ^(?:...)$ here rather than relying on
// every call site to remember it.
func ParsePattern(raw string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + raw + ")$")
	if err != nil {
		return nil, fmt.Errorf("policy: invalid pattern %q: %w", raw, err)
	}
	return re, nil
}

// Build parses a raw string parameter for identifier and constructs the
// Policy. An empty raw value is the "disabled" case (§3) and callers
// should not invoke Build for it at all — the config resolver strips
// disabled policies before reaching here; Build treats it as an error to
// make accidental construction of a no-op policy loud.
func Build(identifier, raw string, tidy bool) (Policy, error) {
	if raw == "" {
		return Policy{}, fmt.Errorf("policy: %s has no parameter", identifier)
	}
	meta, ok := builtins[identifier]
	if !ok {
		return Policy{}, fmt.Errorf("policy: unknown identifier %q", identifier)
	}
	switch identifier {
	case Revisions:
		n, err := ParseCount(raw)
		if err != nil {
			return Policy{}, err
		}
		return NewCount(identifier, n, tidy)
	case AgeMax, AgeMin:
		d, err := ParseDuration(raw)
		if err != nil {
			return Policy{}, err
		}
		return NewDuration(identifier, d, tidy)
	case Size:
		n, err := ParseSize(raw)
		if err != nil {
			return Policy{}, err
		}
		return NewSize(identifier, n, tidy)
	case TagPattern, ImagePattern:
		re, err := ParsePattern(raw)
		if err != nil {
			return Policy{}, err
		}
		return NewPattern(identifier, re, tidy)
	default:
		return Policy{}, fmt.Errorf("policy: %s (subject %v) has no parser", identifier, meta.subject)
	}
}
