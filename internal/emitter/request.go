package emitter

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/snowtrail/snowtrail/internal/errors"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/pkg/types"
)

// ContentType is sent with every POST request.
const ContentType = "application/json; charset=utf-8"

// Request is one outbound HTTP request carrying one or more events.
type Request struct {
	Method      Method
	URL         string
	Body        []byte
	ContentType string
	RowIDs      []types.RowID
	Oversize    bool
}

// Result is the outcome of one request. Oversize results are always
// successful so that an unsendable payload cannot block the queue.
type Result struct {
	Success    bool
	RowIDs     []types.RowID
	Oversize   bool
	StatusCode int
	Err        error
}

// Transport performs a request and returns the HTTP status code.
type Transport interface {
	Do(ctx context.Context, req *Request) (int, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (int, error)

func (f TransportFunc) Do(ctx context.Context, req *Request) (int, error) {
	return f(ctx, req)
}

// HTTPTransport sends requests with net/http, bounding each attempt by a
// timeout.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTransport creates a transport with the given per-request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPTransport{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Do sends req. Non-2xx responses and timeouts are returned as errors.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if req.Method == MethodPost {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL, body)
	if err != nil {
		return 0, errors.NewTransportError(errors.CodeRequestFailed, "failed to build request", err)
	}
	if req.Method == MethodPost {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return 0, errors.NewTransportError(errors.CodeTimeout, "request timed out", err)
		}
		return 0, errors.NewTransportError(errors.CodeRequestFailed, "request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, errors.NewTransportError(errors.CodeBadStatus,
			fmt.Sprintf("collector returned %d", resp.StatusCode), nil)
	}
	return resp.StatusCode, nil
}

// buildPost stamps every payload with sentAt and encodes the batch as a
// payload_data envelope.
func buildPost(uri string, b Batch, sentAt time.Time) *Request {
	stm := strconv.FormatInt(sentAt.UnixMilli(), 10)

	var buf bytes.Buffer
	buf.WriteString(`{"schema":"`)
	buf.WriteString(payload.SchemaPayloadData)
	buf.WriteString(`","data":[`)

	ids := make([]types.RowID, 0, len(b.Rows))
	for i, row := range b.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		row.Payload.Set(payload.KeySentTimestamp, stm)
		data, _ := row.Payload.MarshalJSON()
		buf.Write(data)
		ids = append(ids, row.ID)
	}
	buf.WriteString(`]}`)

	return &Request{
		Method:      MethodPost,
		URL:         uri,
		Body:        buf.Bytes(),
		ContentType: ContentType,
		RowIDs:      ids,
		Oversize:    b.Oversize,
	}
}

// buildGet stamps the single payload of b and encodes it as a query string.
func buildGet(uri string, b Batch, sentAt time.Time) *Request {
	row := b.Rows[0]
	row.Payload.Set(payload.KeySentTimestamp, strconv.FormatInt(sentAt.UnixMilli(), 10))

	return &Request{
		Method:   MethodGet,
		URL:      uri + "?" + row.Payload.QueryString(),
		RowIDs:   []types.RowID{row.ID},
		Oversize: b.Oversize,
	}
}
