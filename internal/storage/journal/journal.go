// Package journal records create-offer commands in a WAL so that commands
// interrupted by a restart can be spotted on the next start.
package journal

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const (
	defaultJournalDir = "./wal/offers"
	intentKeyPrefix   = "offer_intent_"

	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Intent is one journaled create-offer command.
type Intent struct {
	ID      string              `json:"id"`
	Account string              `json:"account"`
	Status  string              `json:"status"`
	Request domain.OfferRequest `json:"request"`
	OfferID int64               `json:"offer_id,omitempty"`
	Time    time.Time           `json:"time"`
	Error   string              `json:"error,omitempty"`
}

// Journal is safe for concurrent use: the reconciler marks outcomes from
// command goroutines.
type Journal struct {
	wal     *gowal.Wal
	mu      sync.Mutex
	intents []*Intent
	index   map[string]*Intent
}

// Open opens (or creates) the journal under dir and replays existing intents.
// Later records for the same intent id supersede earlier ones.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "log_",
		SegmentThreshold: 1000,
		MaxSegments:      100,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init offer journal WAL")
	}

	j := &Journal{
		wal:   wal,
		index: make(map[string]*Intent),
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var intent Intent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			continue
		}
		if existing, ok := j.index[intent.ID]; ok {
			*existing = intent
			continue
		}
		intentCopy := intent
		j.intents = append(j.intents, &intentCopy)
		j.index[intent.ID] = &intentCopy
	}

	return j, nil
}

// Prepare journals a pending create command.
func (j *Journal) Prepare(account string, req domain.OfferRequest, at time.Time) (*Intent, error) {
	intent := &Intent{
		ID:      uuid.New().String(),
		Account: account,
		Status:  StatusPending,
		Request: req,
		Time:    at,
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(intent); err != nil {
		return nil, err
	}
	j.intents = append(j.intents, intent)
	j.index[intent.ID] = intent

	return intent, nil
}

func (j *Journal) MarkDone(intent *Intent, offerID int64) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusDone
	intent.OfferID = offerID
	intent.Error = ""
	return j.persist(intent)
}

func (j *Journal) MarkFailed(intent *Intent, cause error) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusFailed
	if cause != nil {
		intent.Error = cause.Error()
	} else {
		intent.Error = ""
	}
	return j.persist(intent)
}

// Pending returns copies of the intents that never got an outcome.
func (j *Journal) Pending(account string) []Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Intent
	for _, intent := range j.intents {
		if intent.Status == StatusPending && intent.Account == account {
			out = append(out, *intent)
		}
	}
	return out
}

// Intents returns copies of all known intents in journal order.
func (j *Journal) Intents() []Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Intent, 0, len(j.intents))
	for _, intent := range j.intents {
		out = append(out, *intent)
	}
	return out
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}

func (j *Journal) persist(intent *Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "failed to marshal offer intent")
	}
	key := fmt.Sprintf("%s%s", intentKeyPrefix, intent.ID)
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, key, data)
}
