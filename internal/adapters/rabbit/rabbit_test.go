package rabbit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/room-reservations-and-orders/internal/adapters/rabbit"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRabbit(t *testing.T) *amqp.Connection {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "5672/tcp")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := amqp.Dial(fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestPublishConsume(t *testing.T) {
	conn := startRabbit(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	consumer, err := rabbit.NewConsumer(conn, "bookings.test", "booking.cancelled")
	if err != nil {
		t.Fatal(err)
	}
	defer consumer.Close()
	pub, err := rabbit.NewPublisher(conn)
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	for _, key := range []string{"booking.created", "booking.cancelled"} {
		if err := pub.Publish(ctx, key, amqp.Publishing{MessageId: key, ContentType: "application/json", Body: []byte(`{}`)}); err != nil {
			t.Fatal(err)
		}
	}

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case d := <-deliveries:
		if d.RoutingKey != "booking.cancelled" || d.DeliveryMode != amqp.Persistent {
			t.Errorf("unexpected delivery %s mode=%d", d.RoutingKey, d.DeliveryMode)
		}
		if err := d.Ack(false); err != nil {
			t.Fatal(err)
		}
	case <-ctx.Done():
		t.Fatal("no delivery")
	}

	select {
	case d := <-deliveries:
		t.Errorf("unbound routing key delivered: %s", d.RoutingKey)
	case <-time.After(500 * time.Millisecond):
	}
}
