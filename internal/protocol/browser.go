package protocol

import (
	"context"

	"netbridge/internal/handler"
	"netbridge/internal/session"
	"netbridge/pkg/domain"
)

func (d *Dispatcher) handleRoot(ctx context.Context, c *connection, req request) (any, error) {
	switch req.method {
	case "Browser.getTargets":
		return d.getTargets(ctx)
	case "Browser.attachToTarget":
		return d.attachToTarget(ctx, c, req)
	case "Browser.detachFromTarget":
		return nil, d.detachFromTarget(c, req)
	case "Browser.setExtraHTTPHeaders":
		var p struct {
			Headers []domain.HeaderEntry `json:"headers"`
		}
		if err := decodeParams(req.params, &p); err != nil {
			return nil, err
		}
		d.obs.UpdateOptions(func(o *domain.ContextOptions) { o.ExtraHTTPHeaders = p.Headers })
		return nil, nil
	case "Browser.setHTTPCredentials":
		var p struct {
			Credentials *domain.Credentials `json:"credentials"`
		}
		if err := decodeParams(req.params, &p); err != nil {
			return nil, err
		}
		d.obs.UpdateOptions(func(o *domain.ContextOptions) { o.Credentials = p.Credentials })
		return nil, nil
	case "Browser.setOnlineOverride":
		offline := req.params.Get("override").String() == "offline"
		d.obs.UpdateOptions(func(o *domain.ContextOptions) { o.Offline = offline })
		return nil, nil
	case "Browser.setRequestInterception":
		enabled := req.params.Get("enabled").Bool()
		d.obs.UpdateOptions(func(o *domain.ContextOptions) { o.RequestInterception = enabled })
		return nil, nil
	default:
		return nil, methodNotFound(req.method)
	}
}

type targetInfos struct {
	TargetInfos []domain.TargetInfo `json:"targetInfos"`
}

func (d *Dispatcher) getTargets(ctx context.Context) (any, error) {
	targets, err := d.browser.Targets(ctx)
	if err != nil {
		return nil, wrapBrowserErr("list targets", err)
	}
	if targets == nil {
		targets = []domain.TargetInfo{}
	}
	return targetInfos{TargetInfos: targets}, nil
}

type attachResult struct {
	SessionID domain.SessionID `json:"sessionId"`
}

func (d *Dispatcher) attachToTarget(ctx context.Context, c *connection, req request) (any, error) {
	targetID, err := requireString(req.params, "targetId")
	if err != nil {
		return nil, err
	}
	target := domain.TargetID(targetID)
	resolver, err := d.browser.Attach(ctx, target)
	if err != nil {
		return nil, wrapBrowserErr("attach target", err)
	}

	id := session.NewID()
	s := &session.Session{
		ID:     id,
		Target: target,
		Network: handler.New(handler.Config{
			Observer: d.obs,
			Scope:    domain.ScopeID(target),
			Resolver: resolver,
			Emit:     d.emitter(c, id),
			Logger:   d.log.With("sessionId", string(id)),
		}),
	}
	d.sessions.Add(s)
	c.mu.Lock()
	c.sessions[id] = struct{}{}
	c.mu.Unlock()
	return attachResult{SessionID: id}, nil
}

type detachedFromTarget struct {
	SessionID domain.SessionID `json:"sessionId"`
	TargetID  domain.TargetID  `json:"targetId"`
}

func (d *Dispatcher) detachFromTarget(c *connection, req request) error {
	sid, err := requireString(req.params, "sessionId")
	if err != nil {
		return err
	}
	id := domain.SessionID(sid)
	c.mu.Lock()
	_, owned := c.sessions[id]
	delete(c.sessions, id)
	c.mu.Unlock()
	if !owned {
		return sessionNotFound(id)
	}

	c.dropQueue(id)

	s, ok := d.sessions.Remove(id)
	if !ok {
		return sessionNotFound(id)
	}
	d.detachTarget(s.Target)
	return d.sendEvent(c, "", domain.EventDetachedFromTarget, detachedFromTarget{SessionID: id, TargetID: s.Target})
}

func (d *Dispatcher) detachTarget(target domain.TargetID) {
	if err := d.browser.Detach(target); err != nil {
		d.log.Err(err, "分离目标失败", "target", string(target))
	}
}
