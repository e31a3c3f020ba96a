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

	"github.com/angelmondragon/atelier-backend/pkg/config"
	"github.com/angelmondragon/atelier-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
)

// topicAdmin is the slice of the topic admin API the client needs.
type topicAdmin interface {
	GetTopic(ctx context.Context, name string) error
	CreateTopic(ctx context.Context, name string) error
}

// Client owns the Pub/Sub connection for the relay and knows which topics
// inventory events are routed to.
type Client struct {
	client    *pubsub.Client
	admin     topicAdmin
	projectID string
	topics    []string
	create    bool
}

// NewClient connects to Pub/Sub and checks that every topic exists. With
// cfg.CreateTopics set, missing topics are created instead, which is how
// local emulator runs are bootstrapped.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, topics []string, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	names := cleanTopics(topics)
	if len(names) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:    psClient,
		admin:     grpcTopicAdmin{psClient},
		projectID: projectID,
		topics:    names,
		create:    cfg.CreateTopics,
	}
	if err := c.Ping(ctx); err != nil {
		return nil, errors.Join(err, psClient.Close())
	}

	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{"project_id": projectID, "topics": names})
		logg.Info(logCtx, "pubsub client initialized")
	}
	return c, nil
}

// Ping verifies every routed topic is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errors.New("pubsub client not initialized")
	}
	for _, name := range c.topics {
		if err := c.ensureTopic(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureTopic(ctx context.Context, name string) error {
	full := TopicResourceName(c.projectID, name)
	err := c.admin.GetTopic(ctx, full)
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("checking topic %q: %w", name, err)
	}
	if !c.create {
		return fmt.Errorf("topic %q does not exist", name)
	}
	if err := c.admin.CreateTopic(ctx, full); err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("creating topic %q: %w", name, err)
	}
	return nil
}

// Publisher returns a publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := TopicResourceName(c.projectID, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// TopicResourceName expands a bare topic id into projects/<p>/topics/<id>.
func TopicResourceName(projectID, name string) string {
	n := strings.TrimSpace(name)
	switch {
	case n == "":
		return ""
	case strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/"):
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/topics/" + n
}

func cleanTopics(topics []string) []string {
	var names []string
	seen := map[string]bool{}
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		names = append(names, t)
	}
	return names
}

type grpcTopicAdmin struct {
	client *pubsub.Client
}

func (a grpcTopicAdmin) GetTopic(ctx context.Context, name string) error {
	_, err := a.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	return err
}

func (a grpcTopicAdmin) CreateTopic(ctx context.Context, name string) error {
	_, err := a.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
	return err
}
