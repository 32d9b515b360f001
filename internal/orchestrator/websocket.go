package orchestrator

import (
	"context"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
	"netstack/internal/wsclient"
)

// Connect opens a WebSocket connection per spec.md §4.1 step 1 ("ws:/wss:
// -> WebSocket client (bypasses cache)"): mixed-content and cookie
// attachment still apply, but the scheduler, cache, and redirect stages do
// not, matching the one-shot nature of a WebSocket handshake.
func (o *Orchestrator) Connect(ctx context.Context, req *netreq.NetworkRequest, subprotocols []string) (*wsclient.Conn, error) {
	if req.URL.Scheme != "ws" && req.URL.Scheme != "wss" {
		return nil, nserr.New(nserr.KindInvalidURL, "Connect requires a ws: or wss: URL")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.InitiatorOrigin != (netreq.Origin{}) {
		if _, err := o.mixedContent.Check(req.InitiatorOrigin, req.URL, netreq.ResourceConnect); err != nil {
			return nil, err
		}
	}

	header := netreq.NewHeader()
	if req.Header != nil {
		for _, k := range req.Header.Keys() {
			for _, v := range req.Header.Values(k) {
				header.Add(k, v)
			}
		}
	}
	if o.cookies != nil && req.Credentials != netreq.CredentialsOmit {
		for _, c := range o.cookies.CookiesFor(req.URL, false, false, "GET") {
			header.Add("Cookie", c.Name+"="+c.Value)
		}
	}

	return o.ws.Connect(ctx, req.URL.String(), subprotocols, header)
}
