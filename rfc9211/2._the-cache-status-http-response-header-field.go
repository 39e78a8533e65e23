package rfc9211

import (
	"fmt"
	"net/http"
	"strings"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches'
// §     handling of the request corresponding to the response it occurs
// §     within.
// §
// §     Its value is a List [STRUCTURED-FIELDS]:
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the list represents a cache that has handled the
// §     request.  The first member of the list represents the cache closest
// §     to the origin server, and the last member of the list represents the
// §     cache closest to the user (possibly including the user agent's cache
// §     itself, if it appends a value).

const HeaderName = "Cache-Status"

// CacheName identifies this cache in the Cache-Status list.
const CacheName = "OfflineCache"

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.

type FwdReason string

const (
	// §     bypass:  The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// §     method:  The request method's semantics require the request to be
	// §        forwarded.
	FwdReasonMethod FwdReason = "method"
	// §     uri-miss:  The cache did not contain any responses that matched the
	// §        request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// §     request:  The cache was able to select a fresh response for the
	// §        request, but the request's semantics (e.g., Cache-Control request
	// §        directives) did not allow its use.
	FwdReasonRequest FwdReason = "request"
	// §     stale:  The cache was able to select a response for the request, but
	// §        it was stale.
	FwdReasonStale FwdReason = "stale"
)

// CacheStatus is the member of the Cache-Status list added by this cache.
type CacheStatus struct {
	hit       bool
	FwdReason FwdReason
	// §  2.3.  The fwd-status Parameter
	// §
	// §     "fwd-status" indicates what status code the next hop server returned
	// §     in response to the forwarded request.
	FwdStatus int
	// §  2.5.  The stored Parameter
	// §
	// §     "stored" indicates whether the cache stored the response; a true
	// §     value indicates that it did.
	Stored bool
	// §  2.8.  The detail Parameter
	// §
	// §     "detail" allows implementations to convey additional information not
	// §     captured in other parameters, such as implementation-specific states
	// §     or other caching-related metadata.
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.FwdReason = reason
}

// IsHit reports whether the response was served from the cache.
func (cs CacheStatus) IsHit() bool {
	return cs.hit
}

func (cs CacheStatus) String() string {
	params := []string{CacheName}
	if cs.hit {
		params = append(params, "hit")
	} else if cs.FwdReason != "" {
		params = append(params, "fwd="+string(cs.FwdReason))
		if cs.FwdStatus != 0 {
			params = append(params, fmt.Sprintf("fwd-status=%d", cs.FwdStatus))
		}
	}
	if cs.Stored {
		params = append(params, "stored")
	}
	if cs.Detail != "" {
		params = append(params, "detail="+cs.Detail)
	}
	return strings.Join(params, "; ")
}

// AddTo appends the status to the Cache-Status header of h.
func (cs CacheStatus) AddTo(h http.Header) {
	h.Add(HeaderName, cs.String())
}
