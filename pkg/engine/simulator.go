package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mocklet/mocklet/pkg/config"
)

// RenderedResponse is a route's response spec materialized into bytes,
// ready to write to a client.
type RenderedResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Simulate renders the route's configured response and sleeps for its
// configured delay. The response is rendered before the delay starts, so a
// canceled context still yields the rendered response alongside ctx.Err();
// the caller decides whether writing it is still worthwhile.
func Simulate(ctx context.Context, route *config.HTTPRoute) (*RenderedResponse, error) {
	spec := route.Response

	status := spec.Status
	if status == 0 {
		status = http.StatusOK
	}

	resp := &RenderedResponse{
		Status:  status,
		Headers: spec.Headers,
	}
	if len(spec.Body) > 0 {
		body, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling response body for %s %s: %w", route.Method, route.URL, err)
		}
		resp.Body = body
	}

	if route.DelayMs > 0 {
		timer := time.NewTimer(time.Duration(route.DelayMs) * time.Millisecond)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return resp, ctx.Err()
		}
	}
	return resp, nil
}
