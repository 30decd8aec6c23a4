package auth

import (
	"crypto/rsa"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Middleware struct {
	httpClient  HTTPDoer
	log         *zap.Logger
	domainClaim string
	devBypass   bool

	// Assertion verification; disabled when keyURL is empty
	keyURL   string
	keyKID   string
	issuer   string
	audience string
	leeway   time.Duration

	// guarded by mu
	mu        sync.RWMutex
	key       *rsa.PublicKey
	etag      string
	cacheTTL  time.Duration
	lastFetch time.Time
}
