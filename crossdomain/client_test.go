package crossdomain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/adapters/memory"
	"github.com/coregx/messagehub/crossdomain"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, bus crossdomain.Bus, opts ...crossdomain.ClientOption) *crossdomain.Client {
	t.Helper()
	client, err := crossdomain.NewClient(append([]crossdomain.ClientOption{
		crossdomain.WithClientBus(bus),
		crossdomain.WithClientLogger(&messagehub.NoopLogger{}),
	}, opts...)...)
	require.NoError(t, err)
	return client
}

// serve runs a reply server for origin until the test ends.
func serve(t *testing.T, bus crossdomain.Bus, origin model.Origin, provider crossdomain.ContentProviderFunc) {
	t.Helper()
	server, err := crossdomain.NewReplyServer(origin,
		crossdomain.WithServerBus(bus),
		crossdomain.WithContentProvider(provider),
		crossdomain.WithServerLogger(&messagehub.NoopLogger{}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testBundle() model.Bundle {
	key := model.CabinetKey{Recipient: "5790000000005", Origin: model.OriginTimeSeries, ContentType: "TimeSeries"}
	return model.NewBundle(uuid.Nil, key, []uuid.UUID{uuid.New(), uuid.New()}, 2)
}

func TestNewClient_RequiredOptions(t *testing.T) {
	_, err := crossdomain.NewClient(crossdomain.WithClientLogger(&messagehub.NoopLogger{}))
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeConfiguration))

	_, err = crossdomain.NewClient(crossdomain.WithClientBus(memory.NewBus()))
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeConfiguration))

	_, err = crossdomain.NewClient(
		crossdomain.WithClientBus(memory.NewBus()),
		crossdomain.WithClientLogger(&messagehub.NoopLogger{}),
		crossdomain.WithReplyTimeout(0),
	)
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeConfiguration))
}

func TestNewReplyServer_RequiredOptions(t *testing.T) {
	_, err := crossdomain.NewReplyServer(model.Origin("Billing"))
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeConfiguration))

	_, err = crossdomain.NewReplyServer(model.OriginCharges, crossdomain.WithServerBus(memory.NewBus()))
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeConfiguration))
}

func TestClient_RequestContent_Success(t *testing.T) {
	bus := memory.NewBus()
	var seen crossdomain.Request
	serve(t, bus, model.OriginTimeSeries, func(_ context.Context, req crossdomain.Request) (*crossdomain.Response, error) {
		seen = req
		return &crossdomain.Response{Success: &crossdomain.Success{ContentURI: "https://blob.local/" + req.IdempotencyID}}, nil
	})
	bundle := testBundle()

	result, err := newClient(t, bus).RequestContent(context.Background(), bundle)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Failure)
	assert.Equal(t, "https://blob.local/"+bundle.ID.String(), result.ContentURI)

	assert.Equal(t, bundle.ID.String(), seen.IdempotencyID)
	assert.Equal(t, bundle.NotificationIDs, seen.NotificationIDs)
	assert.Equal(t, "TimeSeries", seen.MessageType)
	assert.Zero(t, bus.Pending(crossdomain.ReplyQueue(model.OriginTimeSeries)))
}

func TestClient_RequestContent_Failure(t *testing.T) {
	bus := memory.NewBus()
	serve(t, bus, model.OriginTimeSeries, func(context.Context, crossdomain.Request) (*crossdomain.Response, error) {
		return &crossdomain.Response{Failure: &crossdomain.Failure{Reason: model.FailureDatasetNotFound, Description: "gone"}}, nil
	})

	result, err := newClient(t, bus).RequestContent(context.Background(), testBundle())
	require.NoError(t, err)
	require.NotNil(t, result.Failure)
	assert.Equal(t, model.FailureDatasetNotFound, result.Failure.Reason)
	assert.Equal(t, "gone", result.Failure.Description)
}

func TestClient_ProviderErrorBecomesInternalError(t *testing.T) {
	bus := memory.NewBus()
	serve(t, bus, model.OriginTimeSeries, func(context.Context, crossdomain.Request) (*crossdomain.Response, error) {
		return nil, errors.New("database down")
	})

	result, err := newClient(t, bus).RequestContent(context.Background(), testBundle())
	require.NoError(t, err)
	require.NotNil(t, result.Failure)
	assert.Equal(t, model.FailureInternalError, result.Failure.Reason)
	assert.Equal(t, "database down", result.Failure.Description)
}

func TestClient_EmptyProviderResultBecomesInternalError(t *testing.T) {
	bus := memory.NewBus()
	serve(t, bus, model.OriginTimeSeries, func(context.Context, crossdomain.Request) (*crossdomain.Response, error) {
		return &crossdomain.Response{}, nil
	})

	result, err := newClient(t, bus).RequestContent(context.Background(), testBundle())
	require.NoError(t, err)
	require.NotNil(t, result.Failure)
	assert.Equal(t, model.FailureInternalError, result.Failure.Reason)
}

func TestClient_TimeoutReturnsNoResult(t *testing.T) {
	client := newClient(t, memory.NewBus(), crossdomain.WithReplyTimeout(20*time.Millisecond))

	result, err := client.RequestContent(context.Background(), testBundle())
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestClient_CancelledCallerIsAnError(t *testing.T) {
	client := newClient(t, memory.NewBus())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.RequestContent(ctx, testBundle())
	assert.Error(t, err)
}

func TestClient_MismatchedReplyIsProtocolError(t *testing.T) {
	bus := memory.NewBus()
	serve(t, bus, model.OriginTimeSeries, func(context.Context, crossdomain.Request) (*crossdomain.Response, error) {
		return &crossdomain.Response{Success: &crossdomain.Success{
			ContentURI:      "https://blob.local/other",
			NotificationIDs: []uuid.UUID{uuid.New()},
		}}, nil
	})

	_, err := newClient(t, bus).RequestContent(context.Background(), testBundle())
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeProtocol))
}

func TestClient_InvalidOrigin(t *testing.T) {
	_, err := newClient(t, memory.NewBus()).Send(context.Background(), crossdomain.Request{}, model.Origin("Billing"))
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeValidation))
}

// Concurrent callers each get the reply to their own request.
func TestClient_ConcurrentRequestsGetTheirOwnReplies(t *testing.T) {
	bus := memory.NewBus()
	serve(t, bus, model.OriginTimeSeries, func(_ context.Context, req crossdomain.Request) (*crossdomain.Response, error) {
		return &crossdomain.Response{Success: &crossdomain.Success{ContentURI: req.IdempotencyID}}, nil
	})
	client := newClient(t, bus)

	const callers = 10
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			bundle := testBundle()
			result, err := client.RequestContent(context.Background(), bundle)
			if err == nil && (result == nil || result.ContentURI != bundle.ID.String()) {
				err = errors.New("wrong reply")
			}
			errs <- err
		}()
	}
	for i := 0; i < callers; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestReplyServer_HandleWithoutReplyAddressDrops(t *testing.T) {
	bus := memory.NewBus()
	calls := 0
	server, err := crossdomain.NewReplyServer(model.OriginCharges,
		crossdomain.WithServerBus(bus),
		crossdomain.WithContentProvider(crossdomain.ContentProviderFunc(func(context.Context, crossdomain.Request) (*crossdomain.Response, error) {
			calls++
			return nil, nil
		})),
		crossdomain.WithServerLogger(&messagehub.NoopLogger{}),
	)
	require.NoError(t, err)

	delivery := crossdomain.NewDelivery(crossdomain.Message{Body: crossdomain.MarshalRequest(crossdomain.Request{})}, nil)
	require.NoError(t, server.Handle(context.Background(), delivery))
	assert.Zero(t, calls)
	assert.Zero(t, bus.Pending(crossdomain.ReplyQueue(model.OriginCharges)))
}

func TestReplyServer_MalformedRequestGetsInternalError(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus()
	server, err := crossdomain.NewReplyServer(model.OriginCharges,
		crossdomain.WithServerBus(bus),
		crossdomain.WithContentProvider(crossdomain.ContentProviderFunc(func(context.Context, crossdomain.Request) (*crossdomain.Response, error) {
			t.Fatal("provider must not be called")
			return nil, nil
		})),
		crossdomain.WithServerLogger(&messagehub.NoopLogger{}),
	)
	require.NoError(t, err)

	completed := false
	delivery := crossdomain.NewDelivery(crossdomain.Message{
		Body:             []byte{0xff},
		ReplyTo:          "charges-reply",
		ReplyToSessionID: "s-1",
		CorrelationID:    "c-1",
	}, func(context.Context) error {
		completed = true
		return nil
	})
	require.NoError(t, server.Handle(ctx, delivery))
	assert.True(t, completed)

	session, err := bus.AcceptSession(ctx, "charges-reply", "s-1")
	require.NoError(t, err)
	reply, err := session.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-1", reply.CorrelationID)

	resp, err := crossdomain.UnmarshalResponse(reply.Body)
	require.NoError(t, err)
	require.NotNil(t, resp.Failure)
	assert.Equal(t, model.FailureInternalError, resp.Failure.Reason)
}
