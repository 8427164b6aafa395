package outreach

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue and SiblingFinder that stands in for
// DynamoQueue in the runner, broadcaster and handler tests. It applies the
// same conditional rules and due filter as DynamoQueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]QueueItem
	now   func() time.Time
}

var (
	_ Queue         = (*MemoryQueue)(nil)
	_ SiblingFinder = (*MemoryQueue)(nil)
)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		items: make(map[string]QueueItem),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the creation clock.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.now = now
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, item *QueueItem) (bool, error) {
	if item == nil {
		return false, errors.New("outreach: item cannot be nil")
	}
	if item.UserID == "" || item.ContactID == "" || item.Channel == "" {
		return false, errors.New("outreach: userId, contactId and channel are required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	id := ItemID(item.ContactID, item.Channel)
	if _, exists := q.items[id]; exists {
		return false, nil
	}
	now := q.now()
	item.ID = id
	item.UserChannel = UserChannelKey(item.UserID, item.Channel)
	item.Status = StatusPending
	item.TouchCount = 0
	item.LastSentAt = nil
	item.LastSentAtMs = 0
	item.CreatedAt = now
	item.CreatedAtMs = now.UnixMilli()
	item.UpdatedAt = now
	item.ContactPhone = NormalizePhone(item.ContactPhone)
	item.AddressKey = AddressKey(item.PropertyAddress)
	item.NameKey = NameKey(item.ContactName)
	q.items[id] = *item
	return true, nil
}

func (q *MemoryQueue) PendingBatch(_ context.Context, userID string, channel Channel, limit int, dueBefore time.Time) ([]QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	uc := UserChannelKey(userID, channel)
	out := q.filter(func(it QueueItem) bool {
		return it.UserChannel == uc && it.Status == StatusPending && it.DueBy(dueBefore)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) MarkSent(_ context.Context, itemID string, touchCount int, sentAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status.Terminal() || it.TouchCount >= touchCount {
		return ErrStaleUpdate
	}
	sent := sentAt.UTC()
	it.TouchCount = touchCount
	it.LastSentAt = &sent
	it.LastSentAtMs = sent.UnixMilli()
	it.UpdatedAt = q.now()
	q.items[itemID] = it
	return nil
}

func (q *MemoryQueue) MarkStatus(_ context.Context, itemID string, status Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status.Terminal() && it.Status != status {
		return ErrStaleUpdate
	}
	it.Status = status
	it.UpdatedAt = q.now()
	q.items[itemID] = it
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, itemID string) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[itemID]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &it, nil
}

func (q *MemoryQueue) ByContact(_ context.Context, contactID string) ([]QueueItem, error) {
	return q.filter(func(it QueueItem) bool { return it.ContactID == contactID }), nil
}

func (q *MemoryQueue) ByLead(_ context.Context, userID, leadID string) ([]QueueItem, error) {
	if leadID == "" {
		return nil, nil
	}
	return q.filter(func(it QueueItem) bool { return it.UserID == userID && it.LeadID == leadID }), nil
}

func (q *MemoryQueue) ByAddress(_ context.Context, userID, addressKey string) ([]QueueItem, error) {
	if addressKey == "" {
		return nil, nil
	}
	return q.filter(func(it QueueItem) bool { return it.UserID == userID && it.AddressKey == addressKey }), nil
}

func (q *MemoryQueue) ByNamePrefix(_ context.Context, userID, prefix string) ([]QueueItem, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	return q.filter(func(it QueueItem) bool {
		return it.UserID == userID && strings.HasPrefix(it.NameKey, prefix)
	}), nil
}

func (q *MemoryQueue) filter(keep func(QueueItem) bool) []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []QueueItem
	for _, it := range q.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		return out[i].ID < out[j].ID
	})
	return out
}
