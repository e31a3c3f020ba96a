package pubsub

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/atelier-backend/pkg/config"
)

type fakeAdmin struct {
	existing map[string]bool
	getErr   error
	created  []string
}

func (f *fakeAdmin) GetTopic(_ context.Context, name string) error {
	if f.getErr != nil {
		return f.getErr
	}
	if f.existing[name] {
		return nil
	}
	return status.Error(codes.NotFound, "topic not found")
}

func (f *fakeAdmin) CreateTopic(_ context.Context, name string) error {
	f.created = append(f.created, name)
	f.existing[name] = true
	return nil
}

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"atelier-dev", "inventory", "projects/atelier-dev/topics/inventory"},
		{"atelier-dev", "  inventory  ", "projects/atelier-dev/topics/inventory"},
		{"", "projects/other/topics/inventory", "projects/other/topics/inventory"},
		{"", "inventory", ""},
		{"atelier-dev", "", ""},
	}
	for _, tc := range cases {
		if got := TopicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("TopicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNewClientValidatesInputs(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{}, []string{"inventory"}, nil); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected errProjectIDRequired, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "atelier-dev"}, config.PubSubConfig{}, []string{" ", ""}, nil); !errors.Is(err, errNoTopics) {
		t.Fatalf("expected errNoTopics, got %v", err)
	}
}

func TestCleanTopicsDeduplicates(t *testing.T) {
	got := cleanTopics([]string{"inventory", " inventory ", "", "audit"})
	if len(got) != 2 || got[0] != "inventory" || got[1] != "audit" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestPingReportsMissingTopic(t *testing.T) {
	admin := &fakeAdmin{existing: map[string]bool{}}
	c := &Client{admin: admin, projectID: "atelier-dev", topics: []string{"inventory"}}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected missing topic error")
	}
	if len(admin.created) != 0 {
		t.Fatalf("topics must not be created without opt-in, created %v", admin.created)
	}
}

func TestPingCreatesMissingTopicWhenEnabled(t *testing.T) {
	admin := &fakeAdmin{existing: map[string]bool{}}
	c := &Client{admin: admin, projectID: "atelier-dev", topics: []string{"inventory"}, create: true}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(admin.created) != 1 || admin.created[0] != "projects/atelier-dev/topics/inventory" {
		t.Fatalf("unexpected created topics %v", admin.created)
	}
	if err := c.Ping(context.Background()); err != nil || len(admin.created) != 1 {
		t.Fatalf("second ping should find the topic, err=%v created=%v", err, admin.created)
	}
}

func TestPingWrapsTransportErrors(t *testing.T) {
	admin := &fakeAdmin{getErr: status.Error(codes.Unavailable, "emulator down")}
	c := &Client{admin: admin, projectID: "atelier-dev", topics: []string{"inventory"}, create: true}
	err := c.Ping(context.Background())
	if status.Code(errors.Unwrap(err)) != codes.Unavailable {
		t.Fatalf("expected wrapped unavailable error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("inventory") != nil {
		t.Fatal("nil client should return nil publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("nil client ping should fail")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
