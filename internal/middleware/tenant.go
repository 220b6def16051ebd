package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fixwerk/shopshift/internal/domain"
	"github.com/fixwerk/shopshift/internal/domain/shop"
	"github.com/fixwerk/shopshift/internal/logger"
	"github.com/fixwerk/shopshift/internal/port/database"
)

const headerShopID = "X-Shop-ID"

type shopCtxKey struct{}
type storeCtxKey struct{}

// ShopDirectory looks shops up by ID or subdomain.
type ShopDirectory interface {
	GetShop(ctx context.Context, id string) (*shop.Shop, error)
	GetShopBySubdomain(ctx context.Context, subdomain string) (*shop.Shop, error)
}

// Binder returns the store a shop's requests should hit right now. The
// release func must be called when the request is done.
type Binder interface {
	Bind(ctx context.Context, shopID string) (database.ShopStore, func(), error)
}

// ResolveShop is middleware that identifies the shop behind a request,
// binds the store its migration phase routes to, and puts both on the
// request context. The shop is taken from the X-Shop-ID header when set,
// otherwise from the subdomain of the Host header.
func ResolveShop(dir ShopDirectory, binder Binder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := lookupShop(r, dir)
			if err != nil {
				writeShopError(w, err)
				return
			}
			if !s.Enabled {
				http.Error(w, `{"error":"shop disabled"}`, http.StatusForbidden)
				return
			}

			store, release, err := binder.Bind(r.Context(), s.ID)
			if err != nil {
				writeShopError(w, err)
				return
			}
			defer release()

			ctx := context.WithValue(r.Context(), shopCtxKey{}, s)
			ctx = context.WithValue(ctx, storeCtxKey{}, store)
			ctx = logger.WithShopID(ctx, s.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func lookupShop(r *http.Request, dir ShopDirectory) (*shop.Shop, error) {
	if id := r.Header.Get(headerShopID); id != "" {
		return dir.GetShop(r.Context(), id)
	}
	sub, ok := subdomain(r.Host)
	if !ok {
		return nil, domain.ErrTenantUnresolved
	}
	return dir.GetShopBySubdomain(r.Context(), sub)
}

// subdomain extracts the left-most DNS label from a host like
// "acme.fixwerk.example:8080". Bare hosts have no subdomain.
func subdomain(host string) (string, bool) {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	label, rest, found := strings.Cut(host, ".")
	if !found || label == "" || !strings.Contains(rest, ".") {
		return "", false
	}
	return label, true
}

func writeShopError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTenantUnresolved):
		http.Error(w, `{"error":"unknown shop"}`, http.StatusNotFound)
	case errors.Is(err, domain.ErrConnExhausted):
		http.Error(w, `{"error":"shop store busy"}`, http.StatusServiceUnavailable)
	default:
		http.Error(w, `{"error":"shop unavailable"}`, http.StatusServiceUnavailable)
	}
}

// WithStore returns ctx carrying st the way ResolveShop binds it. Useful
// for composing custom resolvers.
func WithStore(ctx context.Context, st database.ShopStore) context.Context {
	return context.WithValue(ctx, storeCtxKey{}, st)
}

// ShopFromContext returns the shop resolved for this request, or nil.
func ShopFromContext(ctx context.Context) *shop.Shop {
	s, _ := ctx.Value(shopCtxKey{}).(*shop.Shop)
	return s
}

// StoreFromContext returns the store bound for this request, or nil when
// the request did not pass through ResolveShop.
func StoreFromContext(ctx context.Context) database.ShopStore {
	st, _ := ctx.Value(storeCtxKey{}).(database.ShopStore)
	return st
}
