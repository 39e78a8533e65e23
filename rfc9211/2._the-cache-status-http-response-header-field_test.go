package rfc9211

import (
	"net/http"
	"testing"
)

func TestCacheStatusString(t *testing.T) {
	var cs CacheStatus
	cs.Hit()
	cs.Detail = "cache-first"
	if s := cs.String(); s != "OfflineCache; hit; detail=cache-first" {
		t.Fatalf("Cache-Status is %s", s)
	}

	cs = CacheStatus{}
	cs.Forward(FwdReasonUriMiss)
	cs.FwdStatus = 200
	cs.Stored = true
	if s := cs.String(); s != "OfflineCache; fwd=uri-miss; fwd-status=200; stored" {
		t.Fatalf("Cache-Status is %s", s)
	}
}

func TestCacheStatusAppends(t *testing.T) {
	h := http.Header{}
	h.Add(HeaderName, "Upstream; hit")
	cs := CacheStatus{}
	cs.Forward(FwdReasonBypass)
	cs.AddTo(h)
	if v := h.Values(HeaderName); len(v) != 2 || v[1] != "OfflineCache; fwd=bypass" {
		t.Fatalf("Cache-Status values %v", v)
	}
}
