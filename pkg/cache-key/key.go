package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrorMethodNotSupported is returned for requests that cannot be stored.
// Only GET responses are kept in cache partitions.
var ErrorMethodNotSupported = fmt.Errorf("Method not supported")

const methodSeparator = ":"

// CacheKeyer creates storage keys for requests.
// Keys are independent of the partition the entry lives in.
type CacheKeyer struct {
	// Base resolves relative request URLs.
	// Usually this is the origin the agent sits in front of.
	Base *url.URL
}

func NewCacheKeyer(base *url.URL) CacheKeyer {
	return CacheKeyer{Base: base}
}

// GetKey returns the cache key for a request: the method and the absolute URL without its fragment.
// Query strings are part of the key. Request headers are not.
func (c CacheKeyer) GetKey(r *http.Request) (string, error) {
	if r.Method != http.MethodGet {
		return "", ErrorMethodNotSupported
	}
	return r.Method + methodSeparator + c.absolute(r.URL).String(), nil
}

// GetRequestFromKey creates a request that results in the given key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, rawURL, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	return http.NewRequest(method, rawURL, nil)
}

func (c CacheKeyer) absolute(u *url.URL) *url.URL {
	abs := *u
	if !abs.IsAbs() && c.Base != nil {
		abs = *c.Base.ResolveReference(u)
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return &abs
}
