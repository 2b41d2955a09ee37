package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/courier-backend/pkg/config"
	"github.com/angelmondragon/courier-backend/pkg/logger"
)

var errProjectIDRequired = errors.New("gcp project id is required")

// Params describe which Pub/Sub resources a process depends on. NewClient
// fails fast when any of them is missing and Ping re-checks the same set.
type Params struct {
	GCP    config.GCPConfig
	PubSub config.PubSubConfig
	Logger *logger.Logger
	// Topics the process publishes to.
	Topics []string
	// Subscriptions the process receives from.
	Subscriptions []string
	// OrderedPublishing turns on message ordering for every publisher
	// handed out by the client.
	OrderedPublishing bool
}

type Client struct {
	client  *pubsub.Client
	names   resourceNames
	cfg     config.PubSubConfig
	ordered bool
	topics  []string
	subs    []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewClient(ctx context.Context, params Params) (*Client, error) {
	project := strings.TrimSpace(params.GCP.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topics := compact(params.Topics)
	subs := compact(params.Subscriptions)
	if len(topics) == 0 && len(subs) == 0 {
		return nil, errors.New("pubsub client needs at least one topic or subscription")
	}

	psClient, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		names:      resourceNames{project: project},
		cfg:        params.PubSub,
		ordered:    params.OrderedPublishing,
		topics:     topics,
		subs:       subs,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if params.Logger != nil {
		params.Logger.Info(params.Logger.WithFields(ctx, map[string]any{
			"topics":        topics,
			"subscriptions": subs,
			"ordered":       c.ordered,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping confirms every required topic and subscription still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	for _, topic := range c.topics {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.names.topic(topic)})
		if err := describeLookup("topic", topic, err); err != nil {
			return err
		}
	}
	for _, sub := range c.subs {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: c.names.subscription(sub)})
		if err := describeLookup("subscription", sub, err); err != nil {
			return err
		}
	}
	return nil
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Publisher returns the shared publisher for a topic ID or resource name.
// Handles are cached so batching settings and ordering state survive across
// calls; Close stops them.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.names.topic(topic)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[name]; ok {
		return pub
	}
	pub := c.client.Publisher(name)
	pub.EnableMessageOrdering = c.ordered
	c.publishers[name] = pub
	return pub
}

// Subscriber returns a receive handle for a subscription ID or resource name.
func (c *Client) Subscriber(subscription string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.names.subscription(subscription)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// NotificationSubscription receives order lifecycle events.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.NotificationSubscription)
}

// DeliverySubscription receives delivery assignments from the domain topic.
func (c *Client) DeliverySubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.DeliverySubscription)
}

// Close flushes and stops cached publishers before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
