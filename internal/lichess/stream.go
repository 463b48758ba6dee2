package lichess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/park285/crowd-chess-bot/internal/domain"
	"github.com/park285/crowd-chess-bot/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const maxEventLine = 1 << 20

// StreamEvents reads the account's incoming event stream and calls handle for each event
// until the server closes the stream, the connection fails or ctx is done. A clean close
// returns nil; callers reconnect either way.
func (c *Client) StreamEvents(ctx context.Context, handle func(domain.Event)) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	c.prepare(req, fasthttp.MethodGet, "/api/stream/event", nil)
	req.Header.Set("Accept", "application/x-ndjson")

	if err := c.stream.Do(req, resp); err != nil {
		return fmt.Errorf("%w: open event stream: %w", ErrExternalService, err)
	}
	defer func() { _ = resp.CloseBodyStream() }()

	var body io.Reader = resp.BodyStream()
	if body == nil {
		body = bytes.NewReader(resp.Body())
	}
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		head, _ := io.ReadAll(io.LimitReader(body, 512))
		return &StatusError{Method: fasthttp.MethodGet, Path: "/api/stream/event", Status: status, Body: string(head)}
	}

	return readEvents(ctx, body, handle)
}

func readEvents(ctx context.Context, r io.Reader, handle func(domain.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			// keep-alive
			continue
		}
		var env eventEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			obslog.L().Warn("lichess_event_malformed", zap.Error(err), zap.ByteString("line", truncateBytes(line, 256)))
			continue
		}
		if env.Type == "" {
			continue
		}
		handle(env.toDomain())
	}
	if err := sc.Err(); err != nil {
		if isTimeout(err) {
			obslog.L().Warn("lichess_event_stream_stalled", zap.Error(err))
		}
		return fmt.Errorf("%w: read event stream: %w", ErrExternalService, err)
	}
	return nil
}

func truncateBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
