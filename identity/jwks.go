package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/httputil"
)

// jwk is one entry of a JSON Web Key Set, restricted to the RSA fields this
// system signs with.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

func (k jwk) toRSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, errors.Authentication(fmt.Sprintf("unsupported JWK key type %q", k.Kty))
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, errors.AuthenticationWrap("decode JWK modulus", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, errors.AuthenticationWrap("decode JWK exponent", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}

// JWKSFetcher retrieves the raw JSON Web Key Set document for an issuer's
// discovery URL. The default implementation performs an HTTP GET; tests
// supply a stub.
type JWKSFetcher interface {
	Fetch(ctx context.Context, discoveryURL string) ([]byte, error)
}

// HTTPJWKSFetcher fetches a JWKS document over HTTP(S).
type HTTPJWKSFetcher struct {
	client *http.Client
}

// NewHTTPJWKSFetcher builds a fetcher using the shared client defaults.
func NewHTTPJWKSFetcher() (*HTTPJWKSFetcher, error) {
	client, err := httputil.NewClient(httputil.ClientConfig{}, httputil.DefaultClientDefaults())
	if err != nil {
		return nil, err
	}
	return &HTTPJWKSFetcher{client: client}, nil
}

func (f *HTTPJWKSFetcher) Fetch(ctx context.Context, discoveryURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, errors.Internal("build JWKS request", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindAuthentication, "fetch JWKS", err)
	}
	defer resp.Body.Close()
	body, err := httputil.ReadAllStrict(resp.Body, 1<<20)
	if err != nil {
		return nil, errors.AuthenticationWrap("read JWKS response", err)
	}
	return body, nil
}

// JWKSCache caches the parsed keys of a discovery URL's JWKS document with
// a TTL, refetching on miss or after expiry.
type JWKSCache struct {
	fetcher JWKSFetcher
	ttl     time.Duration
	cache   *cache.Cache
}

// NewJWKSCache builds a JWKSCache. A zero ttl defaults to 10 minutes,
// matching common IdP cache-control guidance.
func NewJWKSCache(fetcher JWKSFetcher, ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &JWKSCache{
		fetcher: fetcher,
		ttl:     ttl,
		cache:   cache.New(ttl, 2*ttl),
	}
}

// PublicKey resolves kid's RSA public key from discoveryURL's JWKS,
// refetching the document on a cache miss.
func (c *JWKSCache) PublicKey(ctx context.Context, discoveryURL, kid string) (*rsa.PublicKey, error) {
	if v, ok := c.cache.Get(discoveryURL); ok {
		if key, ok := v.(map[string]*rsa.PublicKey)[kid]; ok {
			return key, nil
		}
	}

	body, err := c.fetcher.Fetch(ctx, discoveryURL)
	if err != nil {
		return nil, err
	}
	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, errors.AuthenticationWrap("parse JWKS document", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := k.toRSAPublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	c.cache.Set(discoveryURL, keys, cache.DefaultExpiration)

	key, ok := keys[kid]
	if !ok {
		return nil, errors.Authentication("unknown JWKS kid: " + kid)
	}
	return key, nil
}

// Invalidate drops a cached document, forcing the next lookup to refetch.
func (c *JWKSCache) Invalidate(discoveryURL string) {
	c.cache.Delete(discoveryURL)
}
