package collection

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventSource is the part of the decoder collections are derived from.
type EventSource interface {
	Events() []string
	EventID(name string) (common.Hash, bool)
	UserTopic(name string) int
}

// Collection is one logical document collection: all logs of an event type,
// or the logs of an event type whose user topic matches a tracked user.
type Collection struct {
	Name    string
	Event   string
	EventID common.Hash
	User    *common.Address

	userTopic int
}

// Build derives the collections of every tracked event. Each event has a generic
// collection. Events with a user field also get one collection per tracked user.
func Build(src EventSource, users []common.Address) ([]*Collection, error) {
	var out []*Collection
	seen := make(map[string]struct{})

	add := func(c *Collection) error {
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("duplicate collection %s", c.Name)
		}
		seen[c.Name] = struct{}{}
		out = append(out, c)
		return nil
	}

	for _, event := range src.Events() {
		id, ok := src.EventID(event)
		if !ok {
			return nil, fmt.Errorf("event %s has no id", event)
		}

		if err := add(&Collection{Name: event, Event: event, EventID: id}); err != nil {
			return nil, err
		}

		topic := src.UserTopic(event)
		if topic == 0 {
			continue
		}

		for _, user := range users {
			if err := add(&Collection{
				Name:      UserCollectionName(event, user),
				Event:     event,
				EventID:   id,
				User:      &user,
				userTopic: topic,
			}); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// UserCollectionName returns the name of the collection of event scoped to user.
func UserCollectionName(event string, user common.Address) string {
	return event + "_" + strings.ToLower(user.Hex())
}

// Topics returns the log filter selecting exactly this collection.
func (c *Collection) Topics() [][]common.Hash {
	if c.User == nil {
		return [][]common.Hash{{c.EventID}}
	}

	topics := make([][]common.Hash, c.userTopic+1)
	topics[0] = []common.Hash{c.EventID}
	topics[c.userTopic] = []common.Hash{userHash(*c.User)}
	return topics
}

// Matches reports whether l belongs to the collection.
func (c *Collection) Matches(l types.Log) bool {
	if len(l.Topics) == 0 || l.Topics[0] != c.EventID {
		return false
	}
	if c.User == nil {
		return true
	}
	return len(l.Topics) > c.userTopic && l.Topics[c.userTopic] == userHash(*c.User)
}

// IsUserScoped reports whether the collection is scoped to a tracked user.
func (c *Collection) IsUserScoped() bool {
	return c.User != nil
}

// UnionTopics returns a filter matching the logs of every collection.
func UnionTopics(collections []*Collection) [][]common.Hash {
	var ids []common.Hash
	for _, c := range collections {
		if !slices.Contains(ids, c.EventID) {
			ids = append(ids, c.EventID)
		}
	}
	return [][]common.Hash{ids}
}

// Names returns the names of collections.
func Names(collections []*Collection) []string {
	names := make([]string, len(collections))
	for i, c := range collections {
		names[i] = c.Name
	}
	return names
}

// Route returns the logs of logs that belong to c, keeping their order.
func (c *Collection) Route(logs []types.Log) []types.Log {
	var out []types.Log
	for _, l := range logs {
		if c.Matches(l) {
			out = append(out, l)
		}
	}
	return out
}

func userHash(user common.Address) common.Hash {
	return common.BytesToHash(user.Bytes())
}
