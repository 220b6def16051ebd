package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/shop"
	"github.com/fixwerk/shopshift/internal/port/database"
)

type fakeDir struct {
	shops map[string]*shop.Shop // keyed by both ID and subdomain
}

func (f *fakeDir) GetShop(_ context.Context, id string) (*shop.Shop, error) {
	if s, ok := f.shops[id]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDir) GetShopBySubdomain(_ context.Context, sub string) (*shop.Shop, error) {
	if s, ok := f.shops[sub]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

type fakeBinder struct {
	store    database.ShopStore
	err      error
	bound    []string
	released int
}

func (f *fakeBinder) Bind(_ context.Context, shopID string) (database.ShopStore, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.bound = append(f.bound, shopID)
	return f.store, func() { f.released++ }, nil
}

type stubStore struct{ database.ShopStore }

func testShop() *shop.Shop {
	return &shop.Shop{ID: "shop-1", Name: "Acme Repairs", Subdomain: "acme", Enabled: true}
}

func dirFor(s *shop.Shop) *fakeDir {
	return &fakeDir{shops: map[string]*shop.Shop{s.ID: s, s.Subdomain: s}}
}

func TestResolveShopByHeader(t *testing.T) {
	s := testShop()
	binder := &fakeBinder{store: &stubStore{}}

	var gotShop *shop.Shop
	var gotStore database.ShopStore
	h := ResolveShop(dirFor(s), binder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotShop = ShopFromContext(r.Context())
		gotStore = StoreFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/customers", nil)
	req.Header.Set("X-Shop-ID", "shop-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if gotShop == nil || gotShop.ID != "shop-1" {
		t.Fatalf("shop in context = %+v, want shop-1", gotShop)
	}
	if gotStore != binder.store {
		t.Fatal("store in context is not the bound store")
	}
	if binder.released != 1 {
		t.Fatalf("released = %d, want 1", binder.released)
	}
}

func TestResolveShopBySubdomain(t *testing.T) {
	s := testShop()
	binder := &fakeBinder{store: &stubStore{}}
	h := ResolveShop(dirFor(s), binder)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/customers", nil)
	req.Host = "acme.fixwerk.example:8080"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(binder.bound) != 1 || binder.bound[0] != "shop-1" {
		t.Fatalf("bound = %v, want [shop-1]", binder.bound)
	}
}

func TestResolveShopUnknown(t *testing.T) {
	binder := &fakeBinder{store: &stubStore{}}
	h := ResolveShop(dirFor(testShop()), binder)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
	}))

	for name, req := range map[string]*http.Request{
		"unknown header id":  httptest.NewRequest(http.MethodGet, "/", nil),
		"bare host no label": httptest.NewRequest(http.MethodGet, "/", nil),
	} {
		t.Run(name, func(t *testing.T) {
			if name == "unknown header id" {
				req.Header.Set("X-Shop-ID", "nope")
			} else {
				req.Host = "localhost:8080"
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rr.Code)
			}
		})
	}
	if len(binder.bound) != 0 {
		t.Fatal("no store must be bound for unresolved shops")
	}
}

func TestResolveShopDisabled(t *testing.T) {
	s := testShop()
	s.Enabled = false
	h := ResolveShop(dirFor(s), &fakeBinder{store: &stubStore{}})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Shop-ID", "shop-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestResolveShopPoolExhausted(t *testing.T) {
	binder := &fakeBinder{err: domain.ErrConnExhausted}
	h := ResolveShop(dirFor(testShop()), binder)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Shop-ID", "shop-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestSubdomainParsing(t *testing.T) {
	cases := []struct {
		host string
		want string
		ok   bool
	}{
		{"acme.fixwerk.example", "acme", true},
		{"acme.fixwerk.example:8080", "acme", true},
		{"fixwerk.example", "", false},
		{"localhost", "", false},
		{"localhost:8080", "", false},
	}
	for _, tc := range cases {
		got, ok := subdomain(tc.host)
		if got != tc.want || ok != tc.ok {
			t.Errorf("subdomain(%q) = (%q, %v), want (%q, %v)", tc.host, got, ok, tc.want, tc.ok)
		}
	}
}
