package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/model"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/testutil"
)

type recordingPublisher struct {
	got    []model.OutboxEvent
	failAt int // 1-based publish call that fails; 0 never
	calls  int
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.OutboxEvent) error {
	p.calls++
	if p.calls == p.failAt {
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func sampleReservation() *model.Reservation {
	return &model.Reservation{
		ID: 11, BorrowerID: 3, ItemVariantID: 4, HubID: 1, Quantity: 2,
		State:              model.StateOverdue,
		PickupDate:         testutil.Epoch,
		ExpectedReturnDate: testutil.Epoch.Add(72 * time.Hour),
	}
}

func TestEventRoundTripThroughOutbox(t *testing.T) {
	ev, err := NewEvent(TypeReservationOverdue, sampleReservation(), testutil.Epoch.Add(96*time.Hour))
	require.NoError(t, err)
	ev.DaysOverdue = 1

	row, err := ev.Outbox()
	require.NoError(t, err)
	assert.Equal(t, TypeReservationOverdue, row.EventType)
	assert.Equal(t, uint64(11), row.ReservationID)

	back, err := Decode(row.Payload)
	require.NoError(t, err)
	assert.Equal(t, ev.EventID, back.EventID)
	assert.Equal(t, 1, back.DaysOverdue)
	assert.True(t, back.ExpectedReturnDate.Equal(ev.ExpectedReturnDate))
}

func seedOutbox(t *testing.T, repo *repository.OutboxRepo, db *database.DB, n int) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		ev, err := NewEvent(TypeReservationCreated, sampleReservation(), testutil.Epoch)
		require.NoError(t, err)
		row, err := ev.Outbox()
		require.NoError(t, err)
		require.NoError(t, repo.InsertTx(ctx, tx, row))
	}
	require.NoError(t, tx.Commit())
}

func TestRelayPublishesInOrderAndStopsAtFailure(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewOutboxRepo(db)
	seedOutbox(t, repo, db, 3)

	pub := &recordingPublisher{failAt: 2}
	relay := NewRelay(repo, pub, zap.NewNop(), clock.NewManual(testutil.Epoch), time.Second)
	ctx := context.Background()

	n, err := relay.RunOnce(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.got, 3)
	assert.Less(t, pub.got[0].ID, pub.got[1].ID)
	assert.Less(t, pub.got[1].ID, pub.got[2].ID)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayStartStop(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := repository.NewOutboxRepo(db)
	seedOutbox(t, repo, db, 2)

	pub := &recordingPublisher{}
	relay := NewRelay(repo, pub, zap.NewNop(), clock.System{}, 10*time.Millisecond)
	relay.Start(context.Background())
	relay.Start(context.Background())
	require.Eventually(t, func() bool {
		pending, err := repo.ListPending(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)
	relay.Stop()
	relay.Stop()
	assert.Len(t, pub.got, 2)
}

func TestHandleMessageAppendsLine(t *testing.T) {
	ev, err := NewEvent(TypeReturnReminderDue, sampleReservation(), testutil.Epoch)
	require.NoError(t, err)
	ev.Level = 2
	row, err := ev.Outbox()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "logs", "lending.log")
	require.NoError(t, handleMessage(row.Payload, path))
	require.NoError(t, handleMessage(row.Payload, path))
	assert.Error(t, handleMessage([]byte("not json"), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ReturnReminderDue")
	assert.Contains(t, lines[0], "reservation_id=11")
	assert.Contains(t, lines[0], "level=2")
}

func TestNewPublisherSelection(t *testing.T) {
	p, err := NewPublisher(config.BrokerConfig{Kind: config.BrokerLog}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), model.OutboxEvent{EventID: "x"}))

	p, err = NewPublisher(config.BrokerConfig{Kind: config.BrokerKafka, KafkaBrokers: []string{"localhost:9092"}, KafkaTopic: "t"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, p)
	assert.NoError(t, p.Close())

	p, err = NewPublisher(config.BrokerConfig{Kind: config.BrokerRabbitMQ, RabbitURL: "amqp://x", Queue: "q"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RabbitPublisher{}, p)

	_, err = NewPublisher(config.BrokerConfig{Kind: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}

type fakeConfirm struct {
	acked bool
	block bool
}

func (f fakeConfirm) WaitContext(ctx context.Context) (bool, error) {
	if f.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return f.acked, nil
}

func TestAwaitConfirm(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, awaitConfirm(ctx, fakeConfirm{acked: true}))
	assert.ErrorIs(t, awaitConfirm(ctx, fakeConfirm{acked: false}), ErrNotConfirmed)
	assert.ErrorIs(t, awaitConfirm(ctx, notConfirmed{}), ErrNotConfirmed)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, awaitConfirm(short, fakeConfirm{block: true}), context.DeadlineExceeded)
}
