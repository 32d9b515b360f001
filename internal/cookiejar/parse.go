package cookiejar

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ParseSetCookie parses one Set-Cookie header value relative to u, filling
// in attribute defaults absent from the header (Domain from u's host,
// Path from u's directory), per spec.md §4.9. A malformed header (no
// name=value pair) returns ok=false rather than an error: unparsable
// Set-Cookie headers are silently ignored, matching browser behavior.
func ParseSetCookie(u *url.URL, header string) (Cookie, bool) {
	parts := strings.Split(header, ";")
	if len(parts) == 0 {
		return Cookie{}, false
	}
	nameValue := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nameValue) != 2 || strings.TrimSpace(nameValue[0]) == "" {
		return Cookie{}, false
	}

	c := Cookie{
		Name:    strings.TrimSpace(nameValue[0]),
		Value:   strings.TrimSpace(nameValue[1]),
		Domain:  strings.ToLower(u.Hostname()),
		Path:    defaultPath(u.Path),
		Created: time.Now(),
	}

	var maxAge *int
	explicitSameSiteNone := false
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		av := strings.SplitN(attr, "=", 2)
		attrName := strings.ToLower(strings.TrimSpace(av[0]))
		var attrValue string
		if len(av) == 2 {
			attrValue = strings.TrimSpace(av[1])
		}

		switch attrName {
		case "domain":
			if attrValue != "" {
				c.Domain = strings.ToLower(strings.TrimPrefix(attrValue, "."))
			}
		case "path":
			if strings.HasPrefix(attrValue, "/") {
				c.Path = attrValue
			}
		case "expires":
			if t, err := time.Parse(time.RFC1123, attrValue); err == nil {
				c.Expiry = t
			} else if t, err := time.Parse("Mon, 02-Jan-2006 15:04:05 MST", attrValue); err == nil {
				c.Expiry = t
			}
		case "max-age":
			if n, err := strconv.Atoi(attrValue); err == nil {
				maxAge = &n
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "samesite":
			switch strings.ToLower(attrValue) {
			case "strict":
				c.SameSite = SameSiteStrict
			case "none":
				c.SameSite = SameSiteNone
				explicitSameSiteNone = true
			default:
				c.SameSite = SameSiteLax
			}
		}
	}

	// Max-Age takes precedence over Expires when both are present.
	if maxAge != nil {
		if *maxAge <= 0 {
			c.Expiry = time.Unix(0, 0)
		} else {
			c.Expiry = c.Created.Add(time.Duration(*maxAge) * time.Second)
		}
	}

	// SameSite=None requires Secure (spec.md §3 invariant).
	if explicitSameSiteNone && !c.Secure {
		return Cookie{}, false
	}

	return c, true
}

func defaultPath(urlPath string) string {
	if urlPath == "" || !strings.HasPrefix(urlPath, "/") {
		return "/"
	}
	idx := strings.LastIndexByte(urlPath, '/')
	if idx <= 0 {
		return "/"
	}
	return urlPath[:idx]
}

// String serializes c as a request Cookie header fragment ("name=value").
func (c Cookie) String() string {
	return c.Name + "=" + c.Value
}
