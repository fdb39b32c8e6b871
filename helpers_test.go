package tenantauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tenantauth/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

const testPassword = "Tr4vel!Kettle#Mo0n"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type captureMailer struct {
	mu    sync.Mutex
	msgs  []CodeMessage
	fail  bool
	delay time.Duration
}

func (m *captureMailer) SendCode(_ context.Context, msg CodeMessage) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func (m *captureMailer) last(t *testing.T) CodeMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.msgs) == 0 {
		t.Fatal("expected a mailed code")
	}
	return m.msgs[len(m.msgs)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte(strings.Repeat("s", 32))
	cfg.Password.Argon2 = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	// keeps tests independent of the zxcvbn dictionaries
	cfg.Password.Strength = func(string) int { return 4 }
	cfg.Audit.Enabled = false
	return cfg
}

type fixture struct {
	engine *Engine
	store  *MemoryStore
	mailer *captureMailer
	clock  *testClock
	redis  *miniredis.Miniredis
}

type fixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	withRedis bool
	mutate    func(*Config)
}

func withRedis() fixtureOption {
	return func(o *fixtureOptions) { o.withRedis = true }
}

func withConfig(fn func(*Config)) fixtureOption {
	return func(o *fixtureOptions) { o.mutate = fn }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var o fixtureOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := testConfig()
	if o.mutate != nil {
		o.mutate(&cfg)
	}

	f := &fixture{
		store:  NewMemoryStore(),
		mailer: &captureMailer{},
		clock:  newTestClock(),
	}
	b := New().
		WithConfig(cfg).
		WithStore(f.store).
		WithMailer(f.mailer).
		WithClock(f.clock.Now).
		WithLogger(zaptest.NewLogger(t))

	if o.withRedis {
		f.redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		b = b.WithRedis(client)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	f.engine = engine
	return f
}

// advance moves the engine clock and, when present, Redis key expiry.
func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	if f.redis != nil {
		f.redis.FastForward(d)
	}
}

func (f *fixture) addUser(t *testing.T, tenantID, email, plain string, mutate ...func(*User)) User {
	t.Helper()
	u := User{TenantID: tenantID, Email: email, Role: "member", PasswordChangedAt: f.clock.Now()}
	if plain != "" {
		hash, err := f.engine.hasher.Hash(plain)
		if err != nil {
			t.Fatalf("hash failed: %v", err)
		}
		u.PasswordHash = hash
	}
	for _, fn := range mutate {
		fn(&u)
	}
	out, err := f.store.AddUser(u)
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	return out
}

// enrollTOTP runs enable and verify so the account has two-factor on.
func (f *fixture) enrollTOTP(t *testing.T, userID int64) string {
	t.Helper()
	setup, err := f.engine.EnableTOTP(context.Background(), userID)
	if err != nil {
		t.Fatalf("EnableTOTP failed: %v", err)
	}
	if _, err := f.engine.VerifyTOTP(context.Background(), userID, f.totpCode(t, setup.Secret, 0)); err != nil {
		t.Fatalf("VerifyTOTP failed: %v", err)
	}
	return setup.Secret
}

func (f *fixture) totpCode(t *testing.T, secret string, offset time.Duration) string {
	t.Helper()
	code, err := f.engine.totp.code(secret, f.clock.Now().Add(offset))
	if err != nil {
		t.Fatalf("totp code failed: %v", err)
	}
	return code
}

func (f *fixture) attempts(t *testing.T, tenantID, email string) int {
	t.Helper()
	st, err := f.engine.attempts.Status(context.Background(), attemptKey(tenantID, email))
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return st.Count
}
