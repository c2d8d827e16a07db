package check

import (
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"fortgate/internal/dataType"

	"github.com/phemmer/go-iptrie"
)

// Compiled artifacts are cached by literal so repeat evaluation of the
// same rule set does not recompile. Both maps only ever grow with the
// set of distinct rule literals.
var (
	regexCache sync.Map // pattern string -> *regexp.Regexp (nil for invalid)
	cidrCache  sync.Map // literal string -> *iptrie.Trie (nil for invalid)
)

// Evaluate resolves one condition against a snapshot. Pure: no side
// effects, and every malformed input (unknown ids, bad regex, bad CIDR)
// resolves to false instead of an error.
func Evaluate(cond dataType.Condition, snap *dataType.RequestSnapshot) bool {
	value := extractField(cond, snap)

	switch cond.Operator {
	case dataType.OpEquals:
		return strings.EqualFold(value, cond.Value)
	case dataType.OpNotEquals:
		return !strings.EqualFold(value, cond.Value)
	case dataType.OpContains:
		return containsFold(value, cond.Value)
	case dataType.OpNotContains:
		return !containsFold(value, cond.Value)
	case dataType.OpRegexMatch:
		return regexMatch(cond.Value, value)
	case dataType.OpRegexNotMatch:
		return !regexMatch(cond.Value, value)
	case dataType.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(value), strings.ToLower(cond.Value))
	case dataType.OpNotStartsWith:
		return !strings.HasPrefix(strings.ToLower(value), strings.ToLower(cond.Value))
	case dataType.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(value), strings.ToLower(cond.Value))
	case dataType.OpNotEndsWith:
		return !strings.HasSuffix(strings.ToLower(value), strings.ToLower(cond.Value))
	case dataType.OpInSet:
		return inSet(value, cond.Value)
	case dataType.OpNotInSet:
		return !inSet(value, cond.Value)
	case dataType.OpInList:
		return inList(value, cond.Value)
	case dataType.OpNotInList:
		return !inList(value, cond.Value)
	case dataType.OpIPInRange:
		return ipInRange(value, cond.Value)
	case dataType.OpIPNotInRange:
		return !ipInRange(value, cond.Value)
	case dataType.OpGreaterThan:
		l, r, ok := numericPair(value, cond.Value)
		return ok && l > r
	case dataType.OpGreaterOrEqual:
		l, r, ok := numericPair(value, cond.Value)
		return ok && l >= r
	case dataType.OpLessThan:
		l, r, ok := numericPair(value, cond.Value)
		return ok && l < r
	case dataType.OpLessOrEqual:
		l, r, ok := numericPair(value, cond.Value)
		return ok && l <= r
	case dataType.OpIsPresent:
		return value != ""
	case dataType.OpIsNotPresent:
		return value == ""
	}
	// outside the enumeration: fail closed
	return false
}

func extractField(cond dataType.Condition, snap *dataType.RequestSnapshot) string {
	switch cond.FieldID {
	case dataType.FieldCookie:
		return snap.Cookie(cond.FieldName)
	case dataType.FieldHostname:
		return snap.Host
	case dataType.FieldIP, dataType.FieldIPRange:
		return snap.ClientIP
	case dataType.FieldProtocol:
		return snap.Scheme
	case dataType.FieldReferrer:
		return snap.Referrer
	case dataType.FieldMethod:
		return snap.Method
	case dataType.FieldHTTPVersion:
		return snap.HTTPVersion
	case dataType.FieldUserAgent:
		return snap.UserAgent
	case dataType.FieldXForwardedFor:
		return snap.Header("X-Forwarded-For")
	case dataType.FieldMimeType:
		return snap.MimeType()
	case dataType.FieldAbsoluteURI:
		return snap.AbsoluteURI()
	case dataType.FieldAbsolutePath:
		return snap.Path
	case dataType.FieldPathAndQuery:
		return snap.PathAndQuery
	case dataType.FieldQueryString:
		return snap.QueryString
	case dataType.FieldHeader:
		return snap.Header(cond.FieldName)
	case dataType.FieldContentType:
		return snap.ContentType
	case dataType.FieldBody:
		return snap.Body()
	case dataType.FieldBodyLength:
		return strconv.FormatInt(snap.BodyLength, 10)
	case dataType.FieldCountry:
		return snap.CountryName
	case dataType.FieldCountryISO2:
		return snap.CountryISO2
	case dataType.FieldContinent:
		return snap.ContinentName
	}
	// unknown field ids read as empty, never as an error
	return ""
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func regexMatch(pattern, value string) bool {
	cached, ok := regexCache.Load(pattern)
	if !ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			re = nil
		}
		cached, _ = regexCache.LoadOrStore(pattern, re)
	}
	re, _ := cached.(*regexp.Regexp)
	if re == nil {
		return false
	}
	return re.MatchString(value)
}

// inSet: the literal is a delimiter-separated set, the value must equal
// one element exactly (case-insensitive).
func inSet(value, literal string) bool {
	for _, item := range splitList(literal) {
		if strings.EqualFold(value, item) {
			return true
		}
	}
	return false
}

// inList: the literal is a delimiter-separated list of fragments, any
// one contained in the value matches.
func inList(value, literal string) bool {
	for _, item := range splitList(literal) {
		if containsFold(value, item) {
			return true
		}
	}
	return false
}

func splitList(literal string) []string {
	parts := strings.FieldsFunc(literal, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func ipInRange(value, literal string) bool {
	clientIP, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	cached, ok := cidrCache.Load(literal)
	if !ok {
		cached, _ = cidrCache.LoadOrStore(literal, buildCIDRTrie(literal))
	}
	trie, _ := cached.(*iptrie.Trie)
	if trie == nil {
		return false
	}
	return trie.Contains(clientIP.Unmap())
}

// buildCIDRTrie parses a delimiter-separated CIDR list; bare IPs get a
// host mask. Returns nil when nothing in the literal parses.
func buildCIDRTrie(literal string) *iptrie.Trie {
	trie := iptrie.NewTrie()
	valid := false
	for _, item := range splitList(literal) {
		if !strings.Contains(item, "/") {
			if strings.Contains(item, ":") {
				item += "/128"
			} else {
				item += "/32"
			}
		}
		prefix, err := netip.ParsePrefix(item)
		if err != nil {
			continue
		}
		trie.Insert(prefix.Masked(), struct{}{})
		valid = true
	}
	if !valid {
		return nil
	}
	return trie
}

func numericPair(value, literal string) (int64, int64, bool) {
	l, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	r, err := strconv.ParseInt(strings.TrimSpace(literal), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return l, r, true
}
