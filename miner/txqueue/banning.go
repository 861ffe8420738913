package txqueue

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// BanningMode configures whether slow-to-validate transactions get their
// sender (and recipient, for contract calls) banned from future
// admission.
type BanningMode int

const (
	BanningDisabled BanningMode = iota
	BanningEnabled
)

// BanningConfig mirrors spec.md §6 Banning.
type BanningConfig struct {
	Mode            BanningMode
	OffendThreshold time.Duration
	MinOffends      uint16
	BanDuration     time.Duration
}

type offense struct {
	count     uint16
	bannedAt  time.Time
	banned    bool
	lastSeen  time.Time
}

// banList tracks addresses that have offended (taken longer than
// OffendThreshold to push into a candidate block) and bans them once
// MinOffends is reached, for BanDuration.
type banList struct {
	mu     sync.Mutex
	cfg    BanningConfig
	counts *lru.Cache[common.Address, *offense]
}

func newBanList(cfg BanningConfig) *banList {
	size := 4096
	cache, err := lru.New[common.Address, *offense](size)
	if err != nil {
		panic(err) // only fails for a non-positive size, which is a programming error
	}
	return &banList{cfg: cfg, counts: cache}
}

// offend records an offense for addr and reports whether it crossed the
// ban threshold as a result.
func (b *banList) offend(addr common.Address) (reached bool) {
	if b.cfg.Mode != BanningEnabled {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	o, ok := b.counts.Get(addr)
	if !ok {
		o = &offense{}
	}
	o.count++
	o.lastSeen = now
	if !o.banned && o.count >= b.cfg.MinOffends {
		o.banned = true
		o.bannedAt = now
		reached = true
	}
	b.counts.Add(addr, o)
	return reached
}

// isBanned reports whether addr is currently serving a ban.
func (b *banList) isBanned(addr common.Address) bool {
	if b.cfg.Mode != BanningEnabled {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.counts.Get(addr)
	if !ok || !o.banned {
		return false
	}
	if time.Since(o.bannedAt) > b.cfg.BanDuration {
		o.banned = false
		o.count = 0
		b.counts.Add(addr, o)
		return false
	}
	return true
}
