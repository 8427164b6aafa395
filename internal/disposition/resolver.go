package disposition

import (
	"context"

	"github.com/wolfman30/propreach/internal/outreach"
)

// Resolver finds queue items that belong to the same lead as the trigger.
// ok is false when the resolver's key is missing on the trigger.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, userID string, trigger outreach.QueueItem) (items []outreach.QueueItem, ok bool, err error)
}

type leadResolver struct{ finder outreach.SiblingFinder }

func (r leadResolver) Name() string { return "lead" }

func (r leadResolver) Resolve(ctx context.Context, userID string, trigger outreach.QueueItem) ([]outreach.QueueItem, bool, error) {
	if trigger.LeadID == "" {
		return nil, false, nil
	}
	items, err := r.finder.ByLead(ctx, userID, trigger.LeadID)
	return items, true, err
}

type addressResolver struct{ finder outreach.SiblingFinder }

func (r addressResolver) Name() string { return "address" }

func (r addressResolver) Resolve(ctx context.Context, userID string, trigger outreach.QueueItem) ([]outreach.QueueItem, bool, error) {
	key := trigger.AddressKey
	if key == "" {
		key = outreach.AddressKey(trigger.PropertyAddress)
	}
	if key == "" {
		return nil, false, nil
	}
	items, err := r.finder.ByAddress(ctx, userID, key)
	return items, true, err
}

type nameResolver struct{ finder outreach.SiblingFinder }

func (r nameResolver) Name() string { return "name" }

func (r nameResolver) Resolve(ctx context.Context, userID string, trigger outreach.QueueItem) ([]outreach.QueueItem, bool, error) {
	key := trigger.NameKey
	if key == "" {
		key = outreach.NameKey(trigger.ContactName)
	}
	if key == "" {
		return nil, false, nil
	}
	items, err := r.finder.ByNamePrefix(ctx, userID, key)
	return items, true, err
}

// Chain tries resolvers in order; the first with a usable key and a
// non-empty result wins. With no match the trigger stands alone.
type Chain []Resolver

// DefaultChain degrades lead id -> property address -> owner name prefix.
func DefaultChain(finder outreach.SiblingFinder) Chain {
	return Chain{leadResolver{finder}, addressResolver{finder}, nameResolver{finder}}
}

// Resolve returns the matched items and the name of the resolver that matched.
func (c Chain) Resolve(ctx context.Context, userID string, trigger []outreach.QueueItem) ([]outreach.QueueItem, string, error) {
	if len(trigger) == 0 {
		return nil, "singleton", nil
	}
	for _, r := range c {
		items, ok, err := r.Resolve(ctx, userID, trigger[0])
		if err != nil {
			return nil, r.Name(), err
		}
		if ok && len(items) > 0 {
			return items, r.Name(), nil
		}
	}
	return trigger, "singleton", nil
}

// groupByContact groups items by contact, preserving first-seen order and
// dropping the excluded contact.
func groupByContact(items []outreach.QueueItem, exclude string) ([]string, map[string][]outreach.QueueItem) {
	var order []string
	groups := make(map[string][]outreach.QueueItem)
	for _, it := range items {
		if it.ContactID == "" || it.ContactID == exclude {
			continue
		}
		if _, seen := groups[it.ContactID]; !seen {
			order = append(order, it.ContactID)
		}
		groups[it.ContactID] = append(groups[it.ContactID], it)
	}
	return order, groups
}
