package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/magiclink-auth/internal/model"
	"github.com/iliyamo/magiclink-auth/internal/queue"
	"github.com/iliyamo/magiclink-auth/internal/repository"
	"github.com/iliyamo/magiclink-auth/internal/utils"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
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

type fakeUsers struct {
	mu   sync.Mutex
	byID map[string]*model.User
	err  error
}

func newFakeUsers(users ...model.User) *fakeUsers {
	f := &fakeUsers{byID: make(map[string]*model.User)}
	for i := range users {
		u := users[i]
		f.byID[u.ID] = &u
	}
	return f
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.User{}, f.err
	}
	for _, u := range f.byID {
		if u.Email == email {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.User{}, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return *u, nil
}

func (f *fakeUsers) update(id string, fn func(u *model.User)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.byID[id])
}

// fakeLinks consumes under a mutex, standing in for the conditional UPDATE.
type fakeLinks struct {
	mu     sync.Mutex
	byHash map[string]*model.MagicLink
	err    error
}

func newFakeLinks() *fakeLinks { return &fakeLinks{byHash: make(map[string]*model.MagicLink)} }

func (f *fakeLinks) Create(_ context.Context, ml model.MagicLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.byHash[ml.TokenHash] = &ml
	return nil
}

func (f *fakeLinks) Consume(_ context.Context, hash string, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	ml, ok := f.byHash[hash]
	if !ok || ml.ConsumedAt != nil || !ml.ExpiresAt.After(now) {
		return "", repository.ErrNotFound
	}
	ml.ConsumedAt = &now
	return ml.UserID, nil
}

func (f *fakeLinks) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	for _, ml := range f.byHash {
		if ml.UserID == userID && !ml.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeLinks) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, ml := range f.byHash {
		if ml.CreatedAt.Before(cutoff) {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeLinks) all() []model.MagicLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MagicLink, 0, len(f.byHash))
	for _, ml := range f.byHash {
		out = append(out, *ml)
	}
	return out
}

func (f *fakeLinks) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byHash)
}

type fakeTokens struct {
	mu     sync.Mutex
	byHash map[string]*model.RefreshToken
	err    error
}

func newFakeTokens() *fakeTokens { return &fakeTokens{byHash: make(map[string]*model.RefreshToken)} }

func (f *fakeTokens) StoreRefresh(_ context.Context, rt model.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.byHash[rt.TokenHash] = &rt
	return nil
}

func (f *fakeTokens) Rotate(_ context.Context, hash string, now time.Time, next model.RefreshToken) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	rt, ok := f.byHash[hash]
	if !ok || rt.RevokedAt != nil || !rt.ExpiresAt.After(now) {
		return "", repository.ErrNotFound
	}
	rt.RevokedAt = &now
	next.UserID = rt.UserID
	f.byHash[next.TokenHash] = &next
	return rt.UserID, nil
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if rt, ok := f.byHash[hash]; ok && rt.RevokedAt == nil {
		rt.RevokedAt = &now
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, rt := range f.byHash {
		if rt.UserID == userID && rt.RevokedAt == nil {
			rt.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, rt := range f.byHash {
		if rt.ExpiresAt.Before(cutoff) || (rt.RevokedAt != nil && rt.RevokedAt.Before(cutoff)) {
			delete(f.byHash, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) get(raw string) *model.RefreshToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byHash[utils.HashToken(raw)]
}

type sentMail struct{ to, link string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) SendMagicLink(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, link})
	return m.err
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (a *fakeAudit) Publish(_ context.Context, ev queue.AuthEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *fakeAudit) all() []queue.AuthEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]queue.AuthEvent(nil), a.events...)
}

func (a *fakeAudit) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Event)
	}
	return out
}

const testAppURL = "https://auth.example.com"

var (
	alice = model.User{ID: "u-alice", Email: "alice@example.com", FirstName: "Alice", Role: model.RoleStandard, IsActive: true}
	root  = model.User{ID: "u-root", Email: "root@example.com", FirstName: "Root", Role: model.RoleAdmin, IsActive: true}
	gone  = model.User{ID: "u-gone", Email: "gone@example.com", Role: model.RoleStandard, IsActive: false}
)

type harness struct {
	clock  *testClock
	users  *fakeUsers
	links  *fakeLinks
	tokens *fakeTokens
	mailer *fakeMailer
	audit  *fakeAudit
	delays []time.Duration
	svc    *AuthService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		users:  newFakeUsers(alice, root, gone),
		links:  newFakeLinks(),
		tokens: newFakeTokens(),
		mailer: &fakeMailer{},
		audit:  &fakeAudit{},
	}
	codec := utils.NewAccessCodec("test-secret-test-secret-test-secret", "magiclink-auth", 15*time.Minute).WithClock(h.clock.Now)
	links := NewMagicLinkStore(h.links, 24*time.Hour).WithClock(h.clock.Now)
	refresh := NewRefreshTokenStore(h.tokens, 7*24*time.Hour).WithClock(h.clock.Now)
	h.svc = NewAuthService(h.users, links, refresh, codec, h.mailer, h.audit, AuthConfig{
		AppURL:             testAppURL,
		LoginRequestCap:    3,
		LoginRequestWindow: time.Hour,
		UniformDelayMin:    100 * time.Millisecond,
		UniformDelayMax:    300 * time.Millisecond,
	}, zap.NewNop())
	h.svc.now = h.clock.Now
	h.svc.spawn = func(fn func()) { fn() }
	var mu sync.Mutex
	h.svc.sleep = func(_ context.Context, d time.Duration) {
		mu.Lock()
		h.delays = append(h.delays, d)
		mu.Unlock()
	}
	return h
}

// requestLink runs RequestLogin for email and returns the emailed token.
func (h *harness) requestLink(t *testing.T, email string) string {
	t.Helper()
	before := h.mailer.count()
	if err := h.svc.RequestLogin(context.Background(), email, ClientMeta{IP: "10.0.0.1", UserAgent: "test"}); err != nil {
		t.Fatalf("RequestLogin: %v", err)
	}
	if h.mailer.count() != before+1 {
		t.Fatalf("no link mailed to %s", email)
	}
	return strings.TrimPrefix(h.mailer.last().link, testAppURL+"/auth/verify/")
}
