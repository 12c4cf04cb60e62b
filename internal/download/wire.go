package download

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/nao1215/sprite/internal/model"
)

// ResponseState is the framing progress of a response being read.
type ResponseState int

const (
	// StatePendingHeaders waits for the status line and headers.
	StatePendingHeaders ResponseState = iota
	// StatePendingBody waits for a Content-Length delimited body.
	StatePendingBody
	// StateChunked reads a chunked transfer-encoded body.
	StateChunked
	// StateComplete means the response has been read in full.
	StateComplete
	// StateError means framing failed; the connection must be discarded.
	StateError
)

// String implements fmt.Stringer.
func (s ResponseState) String() string {
	switch s {
	case StatePendingHeaders:
		return "pending_headers"
	case StatePendingBody:
		return "pending_body"
	case StateChunked:
		return "chunked_transfer"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// WireRequest is a request ready to be framed.
type WireRequest struct {
	Method string
	// Target is the request-target: origin form ("/path?q") or absolute
	// form for forward proxies.
	Target  string
	Host    string
	Headers model.Headers
	Body    []byte
}

// WireResponse is a framed response. Body still carries any
// Content-Encoding.
type WireResponse struct {
	Proto      string
	Status     int
	Reason     string
	Headers    model.Headers
	SetCookies []string
	Body       []byte
	// KeepAlive reports whether the connection may carry another request.
	KeepAlive bool
	State     ResponseState
}

// WireCodec writes requests to and reads responses from a connection.
type WireCodec interface {
	Name() string
	WriteRequest(w io.Writer, req *WireRequest) error
	ReadResponse(r *bufio.Reader, method string, maxBody int64) (*WireResponse, error)
}

// HTTP11 frames HTTP/1.1 messages.
var HTTP11 WireCodec = http11{}

type http11 struct{}

func (http11) Name() string { return "HTTP/1.1" }

func (http11) WriteRequest(w io.Writer, req *WireRequest) error {
	if !httpguts.ValidHostHeader(req.Host) {
		return fmt.Errorf("%w: host %q", ErrInvalidRequest, req.Host)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", req.Method, req.Target)
	fmt.Fprintf(bw, "Host: %s\r\n", req.Host)
	for _, k := range req.Headers.Keys() {
		if k == "Host" || k == "Content-Length" {
			continue
		}
		v := req.Headers[k]
		if !httpguts.ValidHeaderFieldName(k) || !httpguts.ValidHeaderFieldValue(v) {
			return fmt.Errorf("%w: header %q", ErrInvalidRequest, k)
		}
		fmt.Fprintf(bw, "%s: %s\r\n", k, v)
	}
	if len(req.Body) > 0 || methodHasBody(req.Method) {
		fmt.Fprintf(bw, "Content-Length: %d\r\n", len(req.Body))
	}
	bw.WriteString("\r\n")
	bw.Write(req.Body)
	return bw.Flush()
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

func (http11) ReadResponse(r *bufio.Reader, method string, maxBody int64) (*WireResponse, error) {
	resp := &WireResponse{State: StatePendingHeaders}
	for {
		if err := readHead(r, resp); err != nil {
			resp.State = StateError
			return resp, err
		}
		// Interim 1xx responses other than 101 precede the real one.
		if resp.Status >= 100 && resp.Status < 200 && resp.Status != http.StatusSwitchingProtocols {
			continue
		}
		break
	}
	resp.State = StatePendingBody
	resp.KeepAlive = keepAlive(resp.Proto, resp.Headers)

	var err error
	switch {
	case !bodyAllowed(method, resp.Status):
		resp.State = StateComplete
	case isChunked(resp.Headers):
		resp.State = StateChunked
		resp.Body, err = readChunked(r, maxBody)
	case resp.Headers.Has("Content-Length"):
		resp.Body, err = readSized(r, resp.Headers.Get("Content-Length"), maxBody)
	default:
		// Delimited by connection close.
		resp.KeepAlive = false
		resp.Body, err = readLimited(r, maxBody)
	}
	if err != nil {
		resp.State = StateError
		return resp, err
	}
	resp.State = StateComplete
	return resp, nil
}

func readHead(r *bufio.Reader, resp *WireResponse) error {
	tp := textproto.NewReader(r)
	line, err := tp.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return fmt.Errorf("%w: status line %q", ErrInvalidResponse, line)
	}
	code, reason, _ := strings.Cut(rest, " ")
	status, err := strconv.Atoi(code)
	if err != nil || len(code) != 3 {
		return fmt.Errorf("%w: status code %q", ErrInvalidResponse, code)
	}

	mh, err := tp.ReadMIMEHeader()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: headers: %w", ErrInvalidResponse, err)
	}

	resp.Proto = proto
	resp.Status = status
	resp.Reason = reason
	resp.Headers = make(model.Headers, len(mh))
	for k, vs := range mh {
		if k == "Set-Cookie" {
			resp.SetCookies = append(resp.SetCookies, vs...)
			resp.Headers.Set(k, vs[len(vs)-1])
			continue
		}
		resp.Headers.Set(k, strings.Join(vs, ", "))
	}
	return nil
}

func keepAlive(proto string, h model.Headers) bool {
	conn := strings.ToLower(h.Get("Connection"))
	if proto == "HTTP/1.0" {
		return strings.Contains(conn, "keep-alive")
	}
	return !strings.Contains(conn, "close")
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	return status != http.StatusNoContent && status != http.StatusNotModified &&
		(status < 100 || status >= 200)
}

func isChunked(h model.Headers) bool {
	te := strings.ToLower(h.Get("Transfer-Encoding"))
	return strings.Contains(te, "chunked")
}

func readSized(r *bufio.Reader, header string, maxBody int64) ([]byte, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: content-length %q", ErrInvalidResponse, header)
	}
	if maxBody > 0 && n > maxBody {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func readChunked(r *bufio.Reader, maxBody int64) ([]byte, error) {
	body, err := readLimited(httputil.NewChunkedReader(r), maxBody)
	if err != nil {
		return nil, err
	}
	// Trailer section, terminated by an empty line.
	if _, err := textproto.NewReader(r).ReadMIMEHeader(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: chunked trailer: %w", ErrInvalidResponse, err)
	}
	return body, nil
}

func readLimited(r io.Reader, maxBody int64) ([]byte, error) {
	if maxBody <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, maxBody)
	}
	return body, nil
}
