package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	base, _ := url.Parse("http://dev.localhost")
	keygen := NewCacheKeyer(base)
	r, _ := http.NewRequest("GET", "/page?q=1", nil)
	key, err := keygen.GetKey(r)
	if err != nil {
		t.Fatal(err)
	}
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "http://dev.localhost/page?q=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
}

func TestKeyIgnoresFragment(t *testing.T) {
	keygen := NewCacheKeyer(nil)
	a, _ := http.NewRequest("GET", "https://api.zotero.org/x#top", nil)
	b, _ := http.NewRequest("GET", "https://api.zotero.org/x", nil)
	keyA, _ := keygen.GetKey(a)
	keyB, _ := keygen.GetKey(b)
	if keyA != keyB {
		t.Fatalf("Keys differ: %s != %s", keyA, keyB)
	}
}

func TestAbsoluteRequestIgnoresBase(t *testing.T) {
	base, _ := url.Parse("http://dev.localhost")
	keygen := NewCacheKeyer(base)
	r, _ := http.NewRequest("GET", "https://api.zotero.org/x", nil)
	if key, _ := keygen.GetKey(r); key != "GET:https://api.zotero.org/x" {
		t.Fatalf("Key is %s", key)
	}
}

func TestOnlyGetIsKeyed(t *testing.T) {
	keygen := NewCacheKeyer(nil)
	r, _ := http.NewRequest("POST", "https://api.zotero.org/x", nil)
	if _, err := keygen.GetKey(r); err != ErrorMethodNotSupported {
		t.Fatalf("Error is %v", err)
	}
	if _, err := keygen.GetRequestFromKey("POST:https://api.zotero.org/x"); err != ErrorMethodNotSupported {
		t.Fatalf("Error is %v", err)
	}
	if _, err := keygen.GetRequestFromKey("garbage"); err == nil {
		t.Fatal("Expected error for malformed key")
	}
}
