package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/packfinderz-pools/pkg/config"
	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var errNotConnected = errors.New("pubsub client not initialized")

// Client resolves short topic and subscription ids against one project.
type Client struct {
	ps      *pubsub.Client
	project string
	cfg     config.PubSubConfig
}

// NewClient dials Pub/Sub and confirms every configured subscription exists,
// so a consumer fails at startup rather than on first receive.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	ps, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	c := &Client{ps: ps, project: project, cfg: cfg}
	if err := c.checkSubscriptions(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "gcp_project", project), "pubsub connected")
	return c, nil
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	var errs error
	for _, name := range subscriptionNames(c.cfg) {
		_, err := c.ps.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: resourceName(c.project, kindSubscription, name),
		})
		switch {
		case status.Code(err) == codes.NotFound:
			errs = errors.Join(errs, fmt.Errorf("subscription %q does not exist", name))
		case err != nil:
			errs = errors.Join(errs, fmt.Errorf("subscription %q: %w", name, err))
		}
	}
	return errs
}

func subscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, raw := range []string{cfg.PoolEventsSubscription} {
		if name := strings.TrimSpace(raw); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Publisher accepts a topic id or a full resource name. It returns nil when
// the name cannot be resolved.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if name := c.resolve(kindTopic, topic); name != "" {
		return c.ps.Publisher(name)
	}
	return nil
}

// Subscriber accepts a subscription id or a full resource name.
func (c *Client) Subscriber(subscription string) *pubsub.Subscriber {
	if name := c.resolve(kindSubscription, subscription); name != "" {
		return c.ps.Subscriber(name)
	}
	return nil
}

// PoolEventsSubscription feeds the pool outcome notification consumer.
func (c *Client) PoolEventsSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.PoolEventsSubscription)
}

// Ping fetches the pool events topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotConnected
	}
	_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: resourceName(c.project, kindTopic, c.cfg.PoolEventsTopic),
	})
	return err
}

func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	return c.ps.Close()
}

func (c *Client) resolve(kind, name string) string {
	if c == nil || c.ps == nil {
		return ""
	}
	return resourceName(c.project, kind, name)
}

// resourceName expands a short id to projects/<project>/<kind>/<id>. Full
// names pass through unchanged.
func resourceName(project, kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/" + kind + "/" + name
}
