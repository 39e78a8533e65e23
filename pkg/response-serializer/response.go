package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// StoredResponse is a complete response as kept in a cache partition.
type StoredResponse struct {
	// Response including its originating request (if known) and a fully buffered body.
	Response *http.Response
	// The value of the clock at the time the response was stored.
	StoredAt time.Time
}

var delim = []byte("\r\n\r\n----\r\n\r\n")

// StoredResponseToBytes serializes the request and response to HTTP/1.1 wire format.
// The response body is read completely and then reset, so the response can still be sent.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	buf := &bytes.Buffer{}

	if req := res.Request; req != nil {
		if err := writeRequest(buf, req); err != nil {
			return nil, fmt.Errorf("write request: %w", err)
		}
	}
	buf.Write(delim)

	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	res.Header.Del(storedAtHeaderName)
	if err != nil {
		return nil, err
	}
	buf.Write(bts)

	return buf.Bytes(), nil
}

// BytesToStoredResponse is the inverse of StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	reqBytes, resBytes, found := bytes.Cut(b, delim)
	if !found {
		return sRes, fmt.Errorf("malformed stored response")
	}
	var req *http.Request
	if len(reqBytes) > 0 {
		var err error
		if req, err = http.ReadRequest(bufio.NewReader(bytes.NewReader(reqBytes))); err != nil {
			return sRes, fmt.Errorf("read request: %w", err)
		}
	}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(resBytes)), req)
	if err != nil {
		return sRes, fmt.Errorf("read response: %w", err)
	}
	sRes.Response = res
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// BufferBody reads the whole response body into memory and replaces it with an in-memory reader.
// The content length is set to the number of bytes read.
func BufferBody(res *http.Response) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, err
		}
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil
	return body, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response and leaves the body readable.
func responseToBytes(res *http.Response) ([]byte, error) {
	body, err := BufferBody(res)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	wire := *res
	wire.ProtoMajor, wire.ProtoMinor = 1, 1
	wire.Close = false
	wire.Body = io.NopCloser(bytes.NewReader(body))
	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, err
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	return buf.Bytes(), nil
}

// writeRequest writes the request line of req with an absolute URL.
// Request headers and body are not kept, they may carry credentials.
func writeRequest(w io.Writer, req *http.Request) error {
	stripped := &http.Request{
		Method: req.Method,
		URL:    req.URL,
		Host:   req.Host,
		Header: http.Header{"User-Agent": {""}},
	}
	return stripped.WriteProxy(w)
}
