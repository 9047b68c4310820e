package session

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"authd/cmd/identity"
	"authd/cmd/security/password"
	"authd/cmd/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	mu    sync.Mutex
	ops   map[string]int
	swept map[string]int
	last  TokenStats
}

func (r *countingRecorder) AuthOp(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op+"/"+outcome]++
}

func (r *countingRecorder) Swept(job string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swept[job] += n
}

func (r *countingRecorder) Stats(st TokenStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = st
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[key]
}

type harness struct {
	svc   *Service
	users *identity.MemoryStore
	store *MemoryStore
	clock *testClock
	rec   *countingRecorder

	cfg  Config
	deps Deps
}

type harnessOption func(*Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	for _, o := range opts {
		o(&cfg)
	}

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1
	pw.BcryptCost = 4

	jwtm, err := NewJWTManager(cfg)
	require.NoError(t, err)

	h := &harness{
		users: identity.NewMemoryStore(),
		store: NewMemoryStore(),
		clock: newTestClock(),
		rec:   &countingRecorder{ops: map[string]int{}, swept: map[string]int{}},
		cfg:   cfg,
	}
	h.deps = Deps{
		Users:       h.users,
		Sessions:    h.store,
		Tokens:      h.store,
		Access:      jwtm,
		Credentials: password.NewVerifier(pw),
		Hasher:      token.NewHasher([]byte("k-0123456789abcdef0123456789abcdef")),
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Recorder:    h.rec,
		Now:         h.clock.Now,
	}
	h.svc, err = NewService(cfg, h.deps)
	require.NoError(t, err)
	return h
}

// rebuild returns a service over the harness stores with deps adjusted by mutate.
func (h *harness) rebuild(t *testing.T, mutate func(*Deps)) *Service {
	t.Helper()
	deps := h.deps
	mutate(&deps)
	svc, err := NewService(h.cfg, deps)
	require.NoError(t, err)
	return svc
}

func fakeDevice() DeviceMeta {
	return DeviceMeta{
		Device:    gofakeit.AppName(),
		DeviceID:  gofakeit.UUID(),
		Platform:  PlatformIOS,
		IP:        gofakeit.IPv4Address(),
		UserAgent: gofakeit.UserAgent(),
	}
}

func fakeSignUp() SignUpInput {
	return SignUpInput{
		Email:    strings.ToLower(gofakeit.Username()) + "." + gofakeit.LetterN(6) + "@example.com",
		Password: "Pw1pass-" + gofakeit.LetterN(8),
		Username: gofakeit.Username(),
		Device:   fakeDevice(),
	}
}
