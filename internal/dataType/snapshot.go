package dataType

import (
	"io"
	"mime"
	"net/http"
	"strings"
)

// MaxBodyCapture caps how much request body is ever materialized.
// Bodies past the cap resolve to "" instead of failing the request.
const MaxBodyCapture = 10 << 20

// RequestSnapshot is the immutable, pre-extracted view of one request.
// It is owned by the handling goroutine and never shared across requests,
// so the lazy parts need no locking.
type RequestSnapshot struct {
	RayID         string
	ClientIP      string
	UserAgent     string
	Method        string
	Host          string
	Scheme        string
	Path          string
	PathAndQuery  string
	QueryString   string
	Referrer      string
	ContentType   string
	HTTPVersion   string
	BodyLength    int64
	CountryISO2   string
	CountryName   string
	ContinentName string
	Secure        bool

	req *http.Request

	cookies     map[string]string
	cookiesDone bool
	headers     map[string]string
	headersDone bool
	body        string
	bodyDone    bool
}

// NewRequestSnapshot extracts the fixed fields once. clientIP and the geo
// fields are resolved by the caller (real-IP headers, GeoIP provider).
func NewRequestSnapshot(r *http.Request, rayID, clientIP string) *RequestSnapshot {
	scheme := "http"
	secure := r.TLS != nil
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
		secure = secure || strings.EqualFold(fwd, "https")
	} else if secure {
		scheme = "https"
	}

	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}

	return &RequestSnapshot{
		RayID:        rayID,
		ClientIP:     clientIP,
		UserAgent:    r.UserAgent(),
		Method:       r.Method,
		Host:         r.Host,
		Scheme:       scheme,
		Path:         r.URL.Path,
		PathAndQuery: pathAndQuery,
		QueryString:  r.URL.RawQuery,
		Referrer:     r.Referer(),
		ContentType:  r.Header.Get("Content-Type"),
		HTTPVersion:  r.Proto,
		BodyLength:   r.ContentLength,
		Secure:       secure,
		req:          r,
	}
}

// MimeType is the media type of Content-Type with parameters stripped.
func (s *RequestSnapshot) MimeType() string {
	if s.ContentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s.ContentType)
	if err != nil {
		return s.ContentType
	}
	return mt
}

// AbsoluteURI rebuilds scheme://host/path?query from the fixed fields.
func (s *RequestSnapshot) AbsoluteURI() string {
	return s.Scheme + "://" + s.Host + s.PathAndQuery
}

// Cookie returns the named cookie value, materializing the cookie map on
// first use. Missing cookies resolve to "".
func (s *RequestSnapshot) Cookie(name string) string {
	if !s.cookiesDone {
		s.cookies = make(map[string]string)
		if s.req != nil {
			for _, c := range s.req.Cookies() {
				s.cookies[c.Name] = c.Value
			}
		}
		s.cookiesDone = true
	}
	return s.cookies[name]
}

// Header returns the named header value, materializing the header map on
// first use. Missing headers resolve to "".
func (s *RequestSnapshot) Header(name string) string {
	if !s.headersDone {
		s.headers = make(map[string]string)
		if s.req != nil {
			for k, v := range s.req.Header {
				if len(v) > 0 {
					s.headers[strings.ToLower(k)] = v[0]
				}
			}
		}
		s.headersDone = true
	}
	return s.headers[strings.ToLower(name)]
}

// Body materializes the request body at most once, capped at
// MaxBodyCapture. Oversized bodies and read errors yield "".
func (s *RequestSnapshot) Body() string {
	if s.bodyDone {
		return s.body
	}
	s.bodyDone = true
	if s.req == nil || s.req.Body == nil {
		return ""
	}
	if s.BodyLength > MaxBodyCapture {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(s.req.Body, MaxBodyCapture+1))
	if err != nil || int64(len(data)) > MaxBodyCapture {
		return ""
	}
	s.body = string(data)
	return s.body
}
