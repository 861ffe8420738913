// Package worknotify implements the external-miner work notification
// side channel (spec.md §4.1.3, §6 "Work notification"): posting
// (pow_hash, difficulty, number) to registered URLs at most once per
// distinct pow_hash.
package worknotify

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Notifier receives new work. Implementations must not block the
// caller for long; Poster below dispatches asynchronously.
type Notifier interface {
	Notify(powHash common.Hash, difficulty *big.Int, number uint64)
}

// Poster is an HTTP work notifier: it POSTs a small JSON payload to a
// fixed URL for every new work item, dropping the result on the floor
// (the wire protocol itself is out of scope per spec.md §1).
type Poster struct {
	url    string
	client *http.Client
}

func NewPoster(url string) *Poster {
	return &Poster{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

type workPayload struct {
	PowHash    common.Hash `json:"pow_hash"`
	Difficulty *big.Int    `json:"difficulty"`
	Number     uint64      `json:"number"`
}

// Notify posts the work item in a detached goroutine; failures are
// logged and otherwise swallowed (spec.md §7).
func (p *Poster) Notify(powHash common.Hash, difficulty *big.Int, number uint64) {
	go func() {
		body, err := json.Marshal(workPayload{PowHash: powHash, Difficulty: difficulty, Number: number})
		if err != nil {
			log.Warn("work notify: failed to encode payload", "err", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			log.Warn("work notify: failed to build request", "url", p.url, "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			log.Warn("work notify: post failed", "url", p.url, "err", err)
			return
		}
		resp.Body.Close()
	}()
}

// Dedup wraps a Notifier so that Notify is forwarded at most once per
// distinct pow_hash, per spec.md §6.
type Dedup struct {
	inner Notifier

	mu   sync.Mutex
	seen map[common.Hash]bool
}

func NewDedup(inner Notifier) *Dedup {
	return &Dedup{inner: inner, seen: make(map[common.Hash]bool)}
}

func (d *Dedup) Notify(powHash common.Hash, difficulty *big.Int, number uint64) {
	d.mu.Lock()
	if d.seen[powHash] {
		d.mu.Unlock()
		return
	}
	d.seen[powHash] = true
	d.mu.Unlock()
	d.inner.Notify(powHash, difficulty, number)
}
