// Package symbol normalizes exchange instrument names as they arrive from
// config files, agent messages and HTTP requests.
package symbol

import (
	"fmt"
	"strings"
)

// Instrument is a ticker with an optional exchange qualifier.
type Instrument struct {
	Exchange string
	Ticker   string
}

func (i Instrument) String() string {
	if i.Exchange == "" {
		return i.Ticker
	}
	return i.Exchange + ":" + i.Ticker
}

// Yahoo style suffixes map to their exchange.
var suffixes = map[string]string{
	".NS": "NSE",
	".BO": "BSE",
}

// Trading series appended by some brokers. Only these are stripped so
// hyphenated tickers such as BAJAJ-AUTO survive.
var series = []string{"-EQ", "-BE", "-BZ", "-SM"}

// Parse accepts "RELIANCE", "nse:reliance", "RELIANCE-EQ" and "RELIANCE.NS".
func Parse(raw string) Instrument {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Instrument{}
	}
	var inst Instrument
	if idx := strings.Index(s, ":"); idx >= 0 {
		inst.Exchange = strings.TrimSpace(s[:idx])
		s = strings.TrimSpace(s[idx+1:])
	}
	for suf, exch := range suffixes {
		if strings.HasSuffix(s, suf) {
			s = strings.TrimSuffix(s, suf)
			if inst.Exchange == "" {
				inst.Exchange = exch
			}
			break
		}
	}
	for _, suf := range series {
		if strings.HasSuffix(s, suf) {
			s = strings.TrimSuffix(s, suf)
			break
		}
	}
	inst.Ticker = s
	return inst
}

// Normalize returns the bare upper-case ticker.
func Normalize(raw string) string {
	return Parse(raw).Ticker
}

// Unique normalizes symbols, dropping blanks and duplicates while keeping
// the first-seen order. It returns nil when nothing is left.
func Unique(symbols []string) []string {
	var out []string
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = Normalize(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// List decodes a loosely typed symbol list: a []string, a []any of strings
// or a comma separated string.
func List(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		return Unique(t)
	case string:
		return Unique(strings.Split(t, ","))
	case []any:
		raw := make([]string, 0, len(t))
		for _, item := range t {
			if item != nil {
				raw = append(raw, fmt.Sprintf("%v", item))
			}
		}
		return Unique(raw)
	default:
		return nil
	}
}
