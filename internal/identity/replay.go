package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrReplayedRequest is returned for a signed request that was already
// accepted.
var ErrReplayedRequest = errors.New("request already used")

// ReplayGuard remembers accepted requests for at least the signature skew
// window on either side of now.
type ReplayGuard interface {
	// Claim records key and reports whether it had not been seen before.
	Claim(ctx context.Context, key string) (bool, error)
}

// RequestKey identifies a signed request by signer and message digest.
// Keying on the message rather than the signature bytes means a re-encoded
// signature over the same request maps to the same key.
func RequestKey(signer common.Address, method, path, ts string, body []byte) (string, error) {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad timestamp", ErrStaleRequest)
	}
	digest := crypto.Keccak256Hash(RequestMessage(method, path, unix, body))
	return signer.Hex() + ":" + digest.Hex(), nil
}

// MemoryReplayGuard keeps claimed keys in a bounded in-process cache. Once
// size keys are live the oldest is forgotten early, so size should cover
// the number of signed requests expected within ttl.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func NewMemoryReplayGuard(size int, ttl time.Duration) *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (g *MemoryReplayGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen.Contains(key) {
		return false, nil
	}
	g.seen.Add(key, struct{}{})
	return true, nil
}
