package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one connected application instance. Version and Instance are
// empty until a worker claims the client.
type Client struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connected_at"`
	Version     string    `json:"version,omitempty"`
	Instance    string    `json:"instance,omitempty"`
}

// Claimed reports whether a worker has claimed the client.
func (c Client) Claimed() bool { return c.Instance != "" }

// Clients tracks connected application instances. Claiming stamps every
// connected client with the owning worker's version and instance ID;
// clients arriving after the claim are stamped on connect.
type Clients struct {
	version  string
	instance string

	mu      sync.Mutex
	claimed bool
	byID    map[string]Client
	now     func() time.Time
}

// NewClients builds a registry stamping clients for the given worker
// version and instance ID.
func NewClients(version, instance string) *Clients {
	return &Clients{
		version:  version,
		instance: instance,
		byID:     make(map[string]Client),
		now:      time.Now,
	}
}

func (c *Clients) stamp(client *Client) {
	if c.claimed {
		client.Version = c.version
		client.Instance = c.instance
	}
}

// Connect registers a new client under a fresh ID and returns its record.
func (c *Clients) Connect() Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	client := Client{ID: uuid.NewString(), ConnectedAt: c.now()}
	c.stamp(&client)
	c.byID[client.ID] = client
	return client
}

// Touch returns the record for id, registering it first when unknown. An
// empty id registers a fresh client.
func (c *Clients) Touch(id string) Client {
	if id == "" {
		return c.Connect()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.byID[id]; ok {
		return client
	}
	client := Client{ID: id, ConnectedAt: c.now()}
	c.stamp(&client)
	c.byID[id] = client
	return client
}

// Disconnect removes a client. Unknown ids are ignored.
func (c *Clients) Disconnect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byID, id)
}

// Claim stamps every connected client and reports how many were stamped.
// After a claim, new connections are stamped as they arrive.
func (c *Clients) Claim() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.claimed = true
	for id, client := range c.byID {
		client.Version = c.version
		client.Instance = c.instance
		c.byID[id] = client
	}
	return len(c.byID)
}

// Count returns the number of connected clients.
func (c *Clients) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byID)
}

// List returns connected clients ordered by connection time, then ID.
func (c *Clients) List() []Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Client, 0, len(c.byID))
	for _, client := range c.byID {
		out = append(out, client)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
