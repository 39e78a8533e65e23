package offlinecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"
)

// ErrNoResponse is returned when neither the network nor the cache has a response for a request.
var ErrNoResponse = errors.New("no cached response and network request failed")

const offlineAPIError = "Network error, no cached data available"

// networkFirst serves API requests.
// Fresh responses are preferred, stored responses are used only when the network fails.
func (a *Agent) networkFirst(req *http.Request) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Detail: "network-first"}
	res, err := a.network.Fetch(req)
	if err == nil {
		cs.Forward(rfc9211.FwdReasonRequest)
		cs.FwdStatus = res.StatusCode
		if isOK(res) {
			cs.Stored = a.put(a.names.API, req, res)
		}
		return res, cs, nil
	}

	a.log.Trace().Err(err).Str("url", req.URL.String()).Msg("Network failed, trying cache")
	if cached := a.match(req, a.names.API, a.names.General); cached != nil {
		cs.Hit()
		return cached, cs, nil
	}
	cs.Forward(rfc9211.FwdReasonUriMiss)
	return offlineAPIResponse(req), cs, nil
}

// cacheFirst serves static assets.
// A stored response is always used; the network is only asked on a miss.
func (a *Agent) cacheFirst(req *http.Request) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Detail: "cache-first"}
	if cached := a.match(req, a.names.Static, a.names.General); cached != nil {
		cs.Hit()
		return cached, cs, nil
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	res, err := a.network.Fetch(req)
	if err != nil {
		if isImageRequest(req) {
			return imageNotFoundResponse(req), cs, nil
		}
		return nil, cs, err
	}
	cs.FwdStatus = res.StatusCode
	if isOK(res) {
		cs.Stored = a.put(a.names.Static, req, res)
	}
	return res, cs, nil
}

type fetchResult struct {
	res    *http.Response
	stored bool
	err    error
}

// staleWhileRevalidate serves the app shell and bundle assets.
// A stored response is returned right away while the network refreshes it.
// Without a stored response the network response is awaited.
func (a *Agent) staleWhileRevalidate(ctx context.Context, req *http.Request) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Detail: "stale-while-revalidate"}
	cached := a.match(req, a.names.General)

	fetchReq := req
	if cached != nil {
		// the revalidation outlives the request it was started for
		fetchReq = req.Clone(context.WithoutCancel(ctx))
	}
	done := make(chan fetchResult, 1)
	a.goBackground(func() {
		result := a.revalidate(fetchReq)
		if cached != nil && result.res != nil {
			result.res.Body.Close()
		}
		done <- result
	})

	if cached != nil {
		cs.Hit()
		return cached, cs, nil
	}

	cs.Forward(rfc9211.FwdReasonUriMiss)
	result := <-done
	if result.err != nil {
		return nil, cs, fmt.Errorf("%w: %w", ErrNoResponse, result.err)
	}
	cs.FwdStatus = result.res.StatusCode
	cs.Stored = result.stored
	return result.res, cs, nil
}

func (a *Agent) revalidate(req *http.Request) fetchResult {
	res, err := a.network.Fetch(req)
	if err != nil {
		a.log.Trace().Err(err).Str("url", req.URL.String()).Msg("Revalidation failed")
		return fetchResult{err: err}
	}
	result := fetchResult{res: res}
	if isOK(res) {
		result.stored = a.put(a.names.General, req, res)
	}
	return result
}

// networkOnly passes the request through without touching any partition.
func (a *Agent) networkOnly(req *http.Request, detail string) (*http.Response, rfc9211.CacheStatus, error) {
	cs := rfc9211.CacheStatus{Detail: detail}
	cs.Forward(rfc9211.FwdReasonBypass)
	res, err := a.network.Fetch(req)
	if err != nil {
		return nil, cs, err
	}
	cs.FwdStatus = res.StatusCode
	return res, cs, nil
}

// match looks up the request in the given partitions, in order.
// It returns nil on a miss. Storage errors are logged and count as a miss.
func (a *Agent) match(req *http.Request, partitions ...string) *http.Response {
	key, err := a.keyer.GetKey(req)
	if err != nil {
		return nil
	}
	log := a.log.With().Str("key", key).Logger()
	for _, name := range partitions {
		p, ok := a.openExisting(name)
		if !ok {
			continue
		}
		ce, ok, err := p.Match(key)
		if err != nil {
			log.Error().Err(err).Str("partition", name).Msg("Could not read from cache")
			continue
		}
		if !ok {
			continue
		}
		sRes, err := serializer.BytesToStoredResponse(ce.Bytes)
		if err != nil {
			// in case we have a corrupted cache entry, we delete it and carry on
			log.Error().Err(err).Str("partition", name).Msg("Could not read stored response")
			p.Delete(key)
			continue
		}
		log.Trace().Str("partition", name).Time("storedAt", sRes.StoredAt).Msg("Cache hit")
		sRes.Response.Request = req
		return sRes.Response
	}
	log.Trace().Msg("Cache miss")
	return nil
}

// openExisting opens a partition only if it exists, so lookups never create partitions.
func (a *Agent) openExisting(name string) (cache.Partition, bool) {
	has, err := a.storage.Has(name)
	if err != nil {
		a.log.Error().Err(err).Str("partition", name).Msg("Could not check partition")
		return nil, false
	}
	if !has {
		return nil, false
	}
	p, err := a.storage.Open(name)
	if err != nil {
		a.log.Error().Err(err).Str("partition", name).Msg("Could not open partition")
		return nil, false
	}
	return p, true
}

// put stores a copy of the response in the given partition.
// The response body is buffered and stays readable for the caller.
// It returns whether the response was stored; failures are only logged.
func (a *Agent) put(partition string, req *http.Request, res *http.Response) bool {
	if !isComplete(res) {
		a.log.Trace().Int("status", res.StatusCode).Str("url", req.URL.String()).Msg("Not storing partial response")
		return false
	}
	key, err := a.keyer.GetKey(req)
	if err != nil {
		a.log.Trace().Err(err).Str("method", req.Method).Msg("Not storing response")
		return false
	}
	log := a.log.With().Str("key", key).Str("partition", partition).Logger()
	entry, err := a.entry(key, req, res)
	if err != nil {
		log.Error().Err(err).Msg("Could not serialize response")
		return false
	}
	p, err := a.storage.Open(partition)
	if err == nil {
		err = p.Put(entry)
	}
	if err != nil {
		log.Error().Err(err).Msg("Could not write to cache")
		return false
	}
	log.Trace().Msg("Cache write")
	return true
}

func (a *Agent) entry(key string, req *http.Request, res *http.Response) (cache.CacheEntry, error) {
	if res.Request == nil {
		res.Request = req
	}
	now := time.Now()
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: now,
	})
	if err != nil {
		return cache.CacheEntry{}, err
	}
	return cache.CacheEntry{Key: key, StoredAt: now, Bytes: bts}, nil
}

// isOK reports a successful (2xx) status, like the fetch API's ok flag.
func isOK(res *http.Response) bool {
	return res.StatusCode >= 200 && res.StatusCode <= 299
}

// isComplete reports whether the response holds the whole representation.
// Partial content must never be stored as the entry for a URL.
func isComplete(res *http.Response) bool {
	return res.StatusCode != http.StatusPartialContent
}

// isImageRequest reports whether the request is made for an image.
// Browsers send the request destination in Sec-Fetch-Dest;
// other clients are judged by what they accept.
func isImageRequest(req *http.Request) bool {
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "image"
	}
	return strings.HasPrefix(req.Header.Get("Accept"), "image/")
}

func offlineAPIResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(map[string]string{"error": offlineAPIError})
	res := syntheticResponse(req, http.StatusServiceUnavailable, "Service Unavailable", body)
	res.Header.Set("Content-Type", "application/json")
	return res
}

func imageNotFoundResponse(req *http.Request) *http.Response {
	return syntheticResponse(req, http.StatusNotFound, "Image not found", nil)
}

func syntheticResponse(req *http.Request, status int, statusText string, body []byte) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, statusText),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
