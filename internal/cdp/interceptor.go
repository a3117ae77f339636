package cdp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"

	adapter "netbridge/internal/adapter/cdp"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// fetchInterceptor 通过 Fetch 域处置一次暂停中的请求，修改原地生效
type fetchInterceptor struct {
	client *cdp.Client
	id     fetch.RequestID
}

func (f *fetchInterceptor) Continue(ctx context.Context, o *traffic.Override) error {
	args := &fetch.ContinueRequestArgs{RequestID: f.id}
	if o != nil {
		args.Method = o.Method
		if o.Headers != nil {
			args.Headers = adapter.ToHeaderEntries(o.Headers)
		}
		if o.PostData != nil {
			args.PostData = o.PostData
		}
	}
	return transportErr(ctx, "continue", f.client.Fetch.ContinueRequest(ctx, args))
}

func (f *fetchInterceptor) Fulfill(ctx context.Context, res *traffic.Response, body []byte) error {
	args := &fetch.FulfillRequestArgs{
		RequestID:       f.id,
		ResponseCode:    res.Status,
		ResponseHeaders: adapter.ToHeaderEntries(res.Headers),
		Body:            body,
	}
	return transportErr(ctx, "fulfill", f.client.Fetch.FulfillRequest(ctx, args))
}

func (f *fetchInterceptor) Fail(ctx context.Context, reason domain.CancelReason) error {
	args := &fetch.FailRequestArgs{RequestID: f.id, ErrorReason: adapter.ErrorReasonFor(reason)}
	return transportErr(ctx, "fail", f.client.Fetch.FailRequest(ctx, args))
}

// transportErr 连接已关闭或上下文取消时归类为 TransportCancelled
func transportErr(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request: %w", op, domain.ErrTransportCancelled)
	}
	return fmt.Errorf("%s request: %w", op, err)
}
