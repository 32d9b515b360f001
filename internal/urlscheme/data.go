// Package urlscheme implements spec.md §4.1 step 1's non-network
// schemes: data: (RFC 2397) and file: with a sandboxed allow-list path
// policy. Both return a synthesized *netreq.NetworkResponse without
// touching DNS, TLS, or any protocol client.
package urlscheme

import (
	"encoding/base64"
	"net/url"
	"strings"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// DecodeData implements RFC 2397: data:[<mediatype>][;base64],<data>.
// The default media type when none is given is "text/plain;charset=US-ASCII".
func DecodeData(u *url.URL) (*netreq.NetworkResponse, error) {
	if u.Scheme != "data" {
		return nil, nserr.New(nserr.KindInvalidURL, "not a data: URL")
	}
	// url.Parse puts everything after "data:" into Opaque for URLs without
	// "//", which is the common data: URL form.
	raw := u.Opaque
	if raw == "" {
		raw = strings.TrimPrefix(u.String(), "data:")
	}

	comma := strings.IndexByte(raw, ',')
	if comma < 0 {
		return nil, nserr.New(nserr.KindInvalidURL, "data URL missing comma separator")
	}
	meta, payload := raw[:comma], raw[comma+1:]

	parts := strings.Split(meta, ";")
	baseType := parts[0]
	params := parts[1:]
	isBase64 := false
	if len(params) > 0 && params[len(params)-1] == "base64" {
		isBase64 = true
		params = params[:len(params)-1]
	}
	if baseType == "" {
		baseType = "text/plain"
		if len(params) == 0 {
			params = []string{"charset=US-ASCII"}
		}
	}
	mediaType := baseType
	if len(params) > 0 {
		mediaType = baseType + ";" + strings.Join(params, ";")
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, nserr.Wrap(nserr.KindInvalidURL, "invalid base64 in data URL", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, nserr.Wrap(nserr.KindInvalidURL, "invalid percent-encoding in data URL", err)
		}
		data = []byte(unescaped)
	}

	header := netreq.NewHeader()
	header.Set("Content-Type", mediaType)

	return &netreq.NetworkResponse{
		URL:          u,
		Status:       200,
		StatusPhrase: "OK",
		Header:       header,
		Body:         netreq.BufferBody{Data: data},
		Type:         netreq.ResponseBasic,
	}, nil
}
