package tagreader

import (
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Result classifies one raw reader line.
type Result int

const (
	// Accepted means the line carried a tag and it passed the debounce check.
	Accepted Result = iota
	// Suppressed means the tag repeated the last accepted one inside the
	// debounce window.
	Suppressed
	// Malformed means the line is not a tag reading (missing prefix, or not
	// hex when hex mode is on). Malformed lines are dropped, not errors;
	// readers emit plenty of non-tag telemetry.
	Malformed
)

// Normalizer turns raw reader lines into canonical tag identifiers and
// suppresses duplicate reads of the same physical tap. One instance guards
// one reader stream; the debounce state is global to the stream, so a rapid
// read of a *different* tag is always accepted.
type Normalizer struct {
	prefix   string
	suffix   string
	hex      bool
	debounce time.Duration

	now func() time.Time

	mu      sync.Mutex
	lastTag string
	lastAt  time.Time
}

// New builds a Normalizer. An empty prefix accepts every line as a tag
// reading; debounce <= 0 disables duplicate suppression.
func New(prefix, suffix string, hex bool, debounce time.Duration) *Normalizer {
	return &Normalizer{
		prefix:   prefix,
		suffix:   suffix,
		hex:      hex,
		debounce: debounce,
		now:      time.Now,
	}
}

// Normalize cleans one raw line and runs it through the debounce check.
// The returned tag is only meaningful when the result is Accepted.
func (n *Normalizer) Normalize(line string) (string, Result) {
	tag, ok := n.clean(line)
	if !ok {
		return "", Malformed
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if n.debounce > 0 && tag == n.lastTag && now.Sub(n.lastAt) < n.debounce {
		// A suppressed repeat does not refresh the window; only accepted
		// readings move the last-accepted state.
		return "", Suppressed
	}
	n.lastTag = tag
	n.lastAt = now
	return tag, Accepted
}

// clean strips the configured prefix/suffix, drops internal whitespace and
// optionally re-renders a hex identifier in decimal.
func (n *Normalizer) clean(line string) (string, bool) {
	value := line
	if n.prefix != "" {
		idx := strings.Index(value, n.prefix)
		if idx < 0 {
			return "", false
		}
		value = value[idx+len(n.prefix):]
	}
	if n.suffix != "" {
		value = strings.TrimSuffix(value, n.suffix)
	}

	value = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
	if value == "" {
		return "", false
	}

	if n.hex {
		dec, err := strconv.ParseUint(value, 16, 64)
		if err != nil {
			return "", false
		}
		value = strconv.FormatUint(dec, 10)
	}
	return value, true
}
