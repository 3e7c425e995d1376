// Package auth implements the Auth Delegate of spec.md §4.L: it validates
// credentials against an external identity service, caches successful
// validations, and issues JWT session tokens for subsequent requests. The
// cache backend follows the teacher's ratelimit.Store interface pattern
// (internal/ratelimit), with an in-memory default and an optional Redis
// implementation for multi-instance deployments.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	RoleUser  = "user"
	RoleAdmin = "administrator"
)

// Identity is the validated result of a credential check.
type Identity struct {
	Username string
	Role     string
}

// ExternalValidator checks a username/password pair against an outside
// identity system (spec.md's WordPress-backed deployment is one concrete
// implementation of this interface).
type ExternalValidator interface {
	Validate(ctx context.Context, username, password string) (Identity, error)
}

// Store is the credential-cache backend contract, mirroring the teacher's
// rate-limit Store interface (Get/Set/Del, with a TTL per Set) so either an in-memory map
// or Redis can serve it interchangeably.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// MemoryStore is the zero-dependency default cache backend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   []byte
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// RedisStore backs the credential cache with a shared Redis instance,
// grounded in the teacher's internal/ratelimit/redis_store.go.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Delegate validates credentials, caches successes, and mints JWTs.
type Delegate struct {
	validator   ExternalValidator
	cache       Store
	cacheTTL    time.Duration
	jwtSecret   []byte
	httpTimeout time.Duration
}

func NewDelegate(validator ExternalValidator, cache Store, cacheTTL time.Duration, jwtSecret []byte) *Delegate {
	return &Delegate{
		validator:   validator,
		cache:       cache,
		cacheTTL:    cacheTTL,
		jwtSecret:   jwtSecret,
		httpTimeout: 15 * time.Second,
	}
}

func cacheKey(username, password string) string {
	sum := sha256.Sum256([]byte(username + password))
	return "auth:" + hex.EncodeToString(sum[:])
}

// Authenticate validates credentials, consulting the cache first.
func (d *Delegate) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	key := cacheKey(username, password)

	if cached, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		var id Identity
		if json.Unmarshal(cached, &id) == nil {
			return id, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.httpTimeout)
	defer cancel()

	id, err := d.validator.Validate(ctx, username, password)
	if err != nil {
		return Identity{}, err
	}

	if encoded, err := json.Marshal(id); err == nil {
		d.cache.Set(ctx, key, encoded, d.cacheTTL)
	}
	return id, nil
}

// RequireAdmin returns an error unless identity carries the administrator role.
func RequireAdmin(id Identity) error {
	if id.Role != RoleAdmin {
		return errors.New("auth: administrator role required")
	}
	return nil
}

// sessionClaims is the JWT payload for an issued admin/user session.
type sessionClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IssueSession mints a signed session token for an already-validated identity.
func (d *Delegate) IssueSession(id Identity, ttl time.Duration) (string, error) {
	claims := sessionClaims{
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(d.jwtSecret)
}

// ParseSession validates a session token and returns the embedded identity.
func (d *Delegate) ParseSession(tokenString string) (Identity, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return d.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	return Identity{Username: claims.Username, Role: claims.Role}, nil
}

// WordPressValidator is the default ExternalValidator for deployments that
// delegate identity to a WordPress user base (spec.md §6 wordpress.* config).
type WordPressValidator struct {
	BaseURL string
	Client  *http.Client
}

func NewWordPressValidator(baseURL string) *WordPressValidator {
	return &WordPressValidator{BaseURL: baseURL, Client: &http.Client{Timeout: 15 * time.Second}}
}

type wpValidateResponse struct {
	Valid bool     `json:"valid"`
	Roles []string `json:"roles"`
}

func (w *WordPressValidator) Validate(ctx context.Context, username, password string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/wp-json/mgxhub/v1/validate", nil)
	if err != nil {
		return Identity{}, err
	}
	req.SetBasicAuth(username, password)

	resp, err := w.Client.Do(req)
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, errors.New("auth: invalid credentials")
	}

	var body wpValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Identity{}, err
	}
	if !body.Valid {
		return Identity{}, errors.New("auth: invalid credentials")
	}

	role := RoleUser
	for _, r := range body.Roles {
		if r == "administrator" {
			role = RoleAdmin
			break
		}
	}
	return Identity{Username: username, Role: role}, nil
}
