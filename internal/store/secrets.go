package store

import (
	"sync"
	"time"
)

// Credentials are the caller-supplied secrets a deployment needs while it is
// being provisioned. They live only in process memory and expire after TTL.
type Credentials struct {
	ProviderAPIKey     string
	HFToken            string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3ModelURL         string
}

const defaultSecretTTL = time.Hour

type secretEntry struct {
	creds     Credentials
	expiresAt time.Time
}

// SecretCache holds deployment credentials for the provisioning window.
// Entries are evicted lazily on read and on write.
type SecretCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]secretEntry
	now     func() time.Time
}

func NewSecretCache(ttl time.Duration) *SecretCache {
	if ttl <= 0 {
		ttl = defaultSecretTTL
	}
	return &SecretCache{
		ttl:     ttl,
		entries: make(map[string]secretEntry),
		now:     time.Now,
	}
}

func (c *SecretCache) Put(deploymentID string, creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	c.entries[deploymentID] = secretEntry{creds: creds, expiresAt: c.now().Add(c.ttl)}
}

func (c *SecretCache) Get(deploymentID string) (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[deploymentID]
	if !ok {
		return Credentials{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, deploymentID)
		return Credentials{}, false
	}
	return e.creds, true
}

func (c *SecretCache) Delete(deploymentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, deploymentID)
}

func (c *SecretCache) sweepLocked() {
	now := c.now()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
}
