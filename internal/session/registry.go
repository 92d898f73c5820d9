package session

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// MaxProfilesPerOwner caps how many independent linked accounts one
// dashboard user may operate.
const MaxProfilesPerOwner = 10

// Registry is the process-wide directory of live sessions, keyed by
// (owner, profile). One Registry is constructed at startup and injected
// into every handler and background task that needs it.
type Registry struct {
	store       credstore.Store
	factory     TransportFactory
	cfg         Config
	maxProfiles int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(store credstore.Store, factory TransportFactory, cfg Config) *Registry {
	return &Registry{
		store:       store,
		factory:     factory,
		cfg:         cfg,
		maxProfiles: MaxProfilesPerOwner,
		sessions:    make(map[string]*Session),
	}
}

func registryKey(ownerID string, profileID string) string {
	return ownerID + ":" + profileID
}

// Get returns the tracked session for (owner, profile), never creating one.
func (r *Registry) Get(ownerID string, profileID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[registryKey(ownerID, profileID)]
	return sess, ok
}

// GetOrCreate returns the tracked session for (owner, profile), creating it
// on first access. The per-owner capacity check and the insertion happen
// under one lock, so two concurrent calls for the same key always observe
// the same session and the cap cannot be raced past.
func (r *Registry) GetOrCreate(ownerID string, profileID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(ownerID, profileID)
	if sess, ok := r.sessions[key]; ok {
		return sess, nil
	}

	owned := 0
	for k := range r.sessions {
		if strings.HasPrefix(k, ownerID+":") {
			owned++
		}
	}
	if owned >= r.maxProfiles {
		return nil, ErrProfileLimit
	}

	sess := New(ownerID, profileID, r.store, r.factory, r.cfg)
	r.sessions[key] = sess
	return sess, nil
}

// ListStatuses returns one snapshot per tracked profile for the owner,
// ordered by profile id ascending. An owner with zero tracked sessions gets
// a single synthesized "profile 1, disconnected" placeholder so the
// dashboard always has a default profile to offer.
func (r *Registry) ListStatuses(ownerID string) []Status {
	r.mu.Lock()
	owned := make([]*Session, 0, r.maxProfiles)
	for k, sess := range r.sessions {
		if strings.HasPrefix(k, ownerID+":") {
			owned = append(owned, sess)
		}
	}
	r.mu.Unlock()

	if len(owned) == 0 {
		return []Status{{
			OwnerID:   ownerID,
			ProfileID: "1",
			State:     StateDisconnected,
		}}
	}

	sort.Slice(owned, func(i, j int) bool {
		return profileOrder(owned[i].ProfileID) < profileOrder(owned[j].ProfileID)
	})

	statuses := make([]Status, 0, len(owned))
	for _, sess := range owned {
		statuses = append(statuses, sess.GetStatus())
	}
	return statuses
}

func profileOrder(profileID string) int {
	n, err := strconv.Atoi(profileID)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// Range calls fn for every tracked session, across all owners. The
// registry lock is not held during fn.
func (r *Registry) Range(fn func(sess *Session)) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.mu.Unlock()

	for _, sess := range all {
		fn(sess)
	}
}

// Remove gracefully disconnects the session (logout plus credential purge)
// and drops it from the registry.
func (r *Registry) Remove(ctx context.Context, ownerID string, profileID string) {
	r.mu.Lock()
	key := registryKey(ownerID, profileID)
	sess, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		sess.Disconnect(ctx)
	}
}

// RestoreAll reconnects every session with persisted credentials. It runs
// in the background and never blocks startup; individual restore failures
// are logged and do not stop the rest of the pass.
func (r *Registry) RestoreAll(ctx context.Context, maxConcurrent int64) {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	go func() {
		keys := r.store.ScanPrefix(ctx, sessionKeyPrefix)

		var restored, failed int64
		sem := semaphore.NewWeighted(maxConcurrent)
		var wg sync.WaitGroup

		for _, key := range keys {
			ownerID, profileID, ok := parseCredsKey(key)
			if !ok {
				continue
			}
			sess, err := r.GetOrCreate(ownerID, profileID)
			if err != nil {
				log.Session(ownerID, profileID).WithError(err).Warn("Skipping restore")
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(sess *Session) {
				defer wg.Done()
				defer sem.Release(1)
				if sess.WaitForConnection(ctx, 30*time.Second) {
					atomic.AddInt64(&restored, 1)
					return
				}
				atomic.AddInt64(&failed, 1)
				log.Session(sess.OwnerID, sess.ProfileID).Warn("Failed to restore session")
			}(sess)
		}

		wg.Wait()
		log.Print(nil).
			WithField("restored", atomic.LoadInt64(&restored)).
			WithField("failed", atomic.LoadInt64(&failed)).
			Info("Session restore pass complete")
	}()
}

// parseCredsKey extracts (owner, profile) from a stored credential key of
// the form "wa:sess:<owner>:profile-<profile>:creds". Only the creds marker
// identifies a restorable session; per-item key material is ignored.
func parseCredsKey(key string) (string, string, bool) {
	if !strings.HasPrefix(key, sessionKeyPrefix) || !strings.HasSuffix(key, ":creds") {
		return "", "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(key, sessionKeyPrefix), ":creds")
	idx := strings.LastIndex(rest, ":profile-")
	if idx < 0 {
		return "", "", false
	}
	owner := rest[:idx]
	profile := rest[idx+len(":profile-"):]
	if owner == "" || profile == "" {
		return "", "", false
	}
	return owner, profile, true
}
