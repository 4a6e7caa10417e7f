package bot

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short id for log correlation: base36 time, sequence and two random chars.
func newReqID() string {
	n := ridSeq.Add(1)
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := []byte{alpha[rand.IntN(len(alpha))], alpha[rand.IntN(len(alpha))]}
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + string(suffix)
}

// splitCommand splits "/cmd@bot rest of text" into "cmd" and the untouched rest.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word = text[1:]
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		rest = strings.TrimSpace(word[i+1:])
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	return word, rest, word != ""
}

// tokenize splits a command line on whitespace, honouring single and double
// quotes and backslash escapes.
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags separates positional args from --key=value, --key value and --bool flags.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") || len(a) == 2 {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimPrefix(a, "--")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}

// leadingFlags strips "--name" tokens from the front of s and returns them
// with the remaining text, whose spacing and newlines are preserved.
func leadingFlags(s string) (map[string]bool, string) {
	out := map[string]bool{}
	s = strings.TrimLeft(s, " \t")
	for strings.HasPrefix(s, "--") {
		end := strings.IndexAny(s, " \t\n")
		tok := s
		if end >= 0 {
			tok = s[:end]
		}
		if len(tok) <= 2 {
			break
		}
		out[strings.ToLower(tok[2:])] = true
		if end < 0 {
			return out, ""
		}
		s = strings.TrimLeft(s[end:], " \t\n")
	}
	return out, s
}

// parseHours accepts a Go duration ("90m") or a plain number of hours ("2").
func parseHours(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	h, err := strconv.ParseFloat(s, 64)
	if err != nil || h <= 0 {
		return 0, false
	}
	return time.Duration(h * float64(time.Hour)), true
}
