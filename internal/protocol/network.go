package protocol

import (
	"context"

	"netbridge/internal/handler"
	"netbridge/pkg/domain"
)

func (d *Dispatcher) handleSession(ctx context.Context, req request) (any, error) {
	s, ok := d.sessions.Get(req.sessionID)
	if !ok {
		return nil, sessionNotFound(req.sessionID)
	}
	h := s.Network

	switch req.method {
	case "Network.enable":
		h.Enable()
		return nil, nil
	case "Network.getResponseBody":
		requestID, err := requireString(req.params, "requestId")
		if err != nil {
			return nil, err
		}
		return h.GetResponseBody(requestID)
	case "Network.setExtraHTTPHeaders":
		var p struct {
			Headers []domain.HeaderEntry `json:"headers"`
		}
		if err := decodeParams(req.params, &p); err != nil {
			return nil, err
		}
		return nil, h.SetExtraHTTPHeaders(p.Headers)
	case "Network.setRequestInterception":
		return nil, h.SetRequestInterception(ctx, req.params.Get("enabled").Bool())
	case "Network.resumeInterceptedRequest":
		var p handler.ResumeParams
		if err := decodeParams(req.params, &p); err != nil {
			return nil, err
		}
		if p.RequestID == "" {
			return nil, domain.Errorf(domain.CodeInvalidParams, "requestId is required")
		}
		return nil, h.ResumeInterceptedRequest(ctx, p)
	case "Network.abortInterceptedRequest":
		requestID, err := requireString(req.params, "requestId")
		if err != nil {
			return nil, err
		}
		return nil, h.AbortInterceptedRequest(ctx, requestID, req.params.Get("errorCode").String())
	case "Network.fulfillInterceptedRequest":
		var p handler.FulfillParams
		if err := decodeParams(req.params, &p); err != nil {
			return nil, err
		}
		if p.RequestID == "" {
			return nil, domain.Errorf(domain.CodeInvalidParams, "requestId is required")
		}
		return nil, h.FulfillInterceptedRequest(ctx, p)
	default:
		return nil, methodNotFound(req.method)
	}
}
