package messagehub_test

import (
	"context"
	"errors"
	"testing"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/adapters/memory"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewBundleAssembler_RequiredOptions(t *testing.T) {
	storage := memory.NewCabinetStorage()
	bundles := memory.NewBundleRepository()

	tests := []struct {
		name string
		opts []messagehub.AssemblerOption
	}{
		{"missing repositories", []messagehub.AssemblerOption{
			messagehub.WithContentRequester(&fakeRequester{}),
			messagehub.WithAssemblerLogger(&messagehub.NoopLogger{}),
		}},
		{"missing requester", []messagehub.AssemblerOption{
			messagehub.WithAssemblerRepositories(storage, bundles),
			messagehub.WithAssemblerLogger(&messagehub.NoopLogger{}),
		}},
		{"missing logger", []messagehub.AssemblerOption{
			messagehub.WithAssemblerRepositories(storage, bundles),
			messagehub.WithContentRequester(&fakeRequester{}),
		}},
		{"non-positive weight", []messagehub.AssemblerOption{
			messagehub.WithAssemblerRepositories(storage, bundles),
			messagehub.WithContentRequester(&fakeRequester{}),
			messagehub.WithAssemblerLogger(&messagehub.NoopLogger{}),
			messagehub.WithMaxBundleWeight(0),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := messagehub.NewBundleAssembler(tt.opts...)
			require.Error(t, err)
			assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeConfiguration))
		})
	}
}

func TestBundleAssembler_MaxWeight(t *testing.T) {
	h := newHub(t, hubOptions{assemblerOpts: []messagehub.AssemblerOption{
		messagehub.WithMaxBundleWeight(25),
		messagehub.WithContentTypeWeights(map[string]int64{"Aggregation": 100}),
	}})

	assert.Equal(t, int64(25), h.assembler.MaxWeight("TimeSeries"))
	assert.Equal(t, int64(100), h.assembler.MaxWeight("Aggregation"))
}

func TestBundleAssembler_NothingToDeliver(t *testing.T) {
	h := newHub(t, hubOptions{})

	bundle, err := h.assembler.Assemble(context.Background(), messagehub.AssembleRequest{Recipient: recipientA})
	require.NoError(t, err)
	assert.Nil(t, bundle)
	assert.Zero(t, h.requester.callCount())
}

func TestBundleAssembler_InvalidRecipient(t *testing.T) {
	h := newHub(t, hubOptions{})

	_, err := h.assembler.Assemble(context.Background(), messagehub.AssembleRequest{Recipient: "5790000000006"})
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeValidation))
}

// Weights 10, 20, 5 with budget 25 give bundles {1} and {2, 3}.
func TestBundleAssembler_WeightBudget(t *testing.T) {
	h := newHub(t, hubOptions{assemblerOpts: []messagehub.AssemblerOption{messagehub.WithMaxBundleWeight(25)}})
	first := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 10)
	second := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 20)
	third := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 5)

	bundle := h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(first), bundle.NotificationIDs)
	assert.Equal(t, int64(10), bundle.Weight)

	bundle = h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(second, third), bundle.NotificationIDs)
	assert.Equal(t, int64(25), bundle.Weight)

	assert.Nil(t, h.peekAndDequeue(t, recipientA))
}

func TestBundleAssembler_OversizedFirstItemIsDeliveredAlone(t *testing.T) {
	h := newHub(t, hubOptions{assemblerOpts: []messagehub.AssemblerOption{messagehub.WithMaxBundleWeight(25)}})
	big := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 40)
	small := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 1)

	bundle := h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(big), bundle.NotificationIDs)

	bundle = h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(small), bundle.NotificationIDs)
}

// An item that does not support bundling is always delivered on its own.
func TestBundleAssembler_UnbundleableItem(t *testing.T) {
	h := newHub(t, hubOptions{})
	first := h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)
	single := h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", false, 1)
	third := h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)
	fourth := h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)

	for _, want := range [][]uuid.UUID{ids(first), ids(single), ids(third, fourth)} {
		bundle := h.peekAndDequeue(t, recipientA)
		require.NotNil(t, bundle)
		assert.Equal(t, want, bundle.NotificationIDs)
	}
}

func TestBundleAssembler_PerContentTypeBudget(t *testing.T) {
	h := newHub(t, hubOptions{assemblerOpts: []messagehub.AssemblerOption{
		messagehub.WithMaxBundleWeight(1),
		messagehub.WithContentTypeWeights(map[string]int64{"Aggregation": 3}),
	}})
	items := []model.DataAvailableNotification{
		h.announce(t, recipientA, model.OriginAggregations, "Aggregation", true, 1),
		h.announce(t, recipientA, model.OriginAggregations, "Aggregation", true, 1),
		h.announce(t, recipientA, model.OriginAggregations, "Aggregation", true, 1),
	}

	bundle := h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(items...), bundle.NotificationIDs)
}

func TestBundleAssembler_OriginPriority(t *testing.T) {
	h := newHub(t, hubOptions{})
	charge := h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)
	series := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 1)

	bundle := h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(series), bundle.NotificationIDs)

	bundle = h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(charge), bundle.NotificationIDs)
}

func TestBundleAssembler_OldestContentTypeFirst(t *testing.T) {
	h := newHub(t, hubOptions{})
	older := h.announce(t, recipientA, model.OriginMeteringPoints, "AccountingPoint", true, 1)
	newer := h.announce(t, recipientA, model.OriginMeteringPoints, "ChildMeteringPoint", true, 1)

	bundle := h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(older), bundle.NotificationIDs)
	assert.Equal(t, "AccountingPoint", bundle.ContentType)

	bundle = h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(newer), bundle.NotificationIDs)
}

func TestBundleAssembler_RecipientsAreIsolated(t *testing.T) {
	h := newHub(t, hubOptions{})
	forB := h.announce(t, recipientB, model.OriginTimeSeries, "TimeSeries", true, 1)

	assert.Nil(t, h.peekAndDequeue(t, recipientA))

	bundle := h.peekAndDequeue(t, recipientB)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(forB), bundle.NotificationIDs)
}

// A reply timeout commits nothing: the next peek delivers the same items.
func TestBundleAssembler_ContentTimeout(t *testing.T) {
	h := newHub(t, hubOptions{})
	item := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 1)

	h.requester.setRespond(func(model.Bundle) (*messagehub.ContentResult, error) { return nil, nil })
	bundle, err := h.operator.Peek(context.Background(), messagehub.PeekRequest{Recipient: recipientA})
	require.NoError(t, err)
	assert.Nil(t, bundle)
	assert.Equal(t, 1, h.notifications.timeouts)

	_, err = h.bundles.GetNextUnacknowledged(context.Background(), recipientA)
	assert.True(t, messagehub.IsNoData(err), "no bundle is saved")

	h.requester.setRespond(nil)
	bundle = h.peekAndDequeue(t, recipientA)
	require.NotNil(t, bundle)
	assert.Equal(t, ids(item), bundle.NotificationIDs)
}

func TestBundleAssembler_DomainFailure(t *testing.T) {
	tests := []struct {
		name   string
		reason model.FailureReason
	}{
		{"dataset not found", model.FailureDatasetNotFound},
		{"dataset not available", model.FailureDatasetNotAvailable},
		{"internal error", model.FailureInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHub(t, hubOptions{})
			h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)

			h.requester.setRespond(func(model.Bundle) (*messagehub.ContentResult, error) {
				return &messagehub.ContentResult{Failure: &messagehub.ContentFailure{Reason: tt.reason, Description: "nope"}}, nil
			})
			bundle, err := h.operator.Peek(context.Background(), messagehub.PeekRequest{Recipient: recipientA})
			require.NoError(t, err)
			assert.Nil(t, bundle)
			assert.Equal(t, []model.FailureReason{tt.reason}, h.notifications.failures)

			entry, err := h.storage.LoadCatalogEntry(context.Background(),
				model.CabinetKey{Recipient: recipientA, Origin: model.OriginCharges, ContentType: "ChargeLinks"})
			require.NoError(t, err)
			assert.Equal(t, int64(1), entry.NextSequenceNumber, "nothing consumed")
		})
	}
}

func TestBundleAssembler_RequesterErrorYieldsNoBundle(t *testing.T) {
	h := newHub(t, hubOptions{})
	h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)
	h.requester.setRespond(func(model.Bundle) (*messagehub.ContentResult, error) {
		return nil, errors.New("bus unavailable")
	})

	bundle, err := h.assembler.Assemble(context.Background(), messagehub.AssembleRequest{Recipient: recipientA})
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestBundleAssembler_ProtocolErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	h := newHub(t, hubOptions{})
	h.announce(t, recipientA, model.OriginCharges, "ChargeLinks", true, 1)
	h.requester.setRespond(func(model.Bundle) (*messagehub.ContentResult, error) {
		return nil, messagehub.NewError(messagehub.ErrCodeProtocol, "reply does not match the request")
	})

	bundle, err := h.operator.Peek(ctx, messagehub.PeekRequest{Recipient: recipientA})
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeProtocol), "got %v", err)
	assert.Nil(t, bundle)
	assert.Equal(t, 1, h.requester.callCount(), "protocol errors are not retried")

	_, err = h.bundles.GetNextUnacknowledged(ctx, recipientA)
	assert.True(t, messagehub.IsNoData(err), "no bundle is saved")
	entry, err := h.storage.LoadCatalogEntry(ctx,
		model.CabinetKey{Recipient: recipientA, Origin: model.OriginCharges, ContentType: "ChargeLinks"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.NextSequenceNumber, "nothing consumed")
}

func TestBundleAssembler_RequestCarriesSelectedItems(t *testing.T) {
	h := newHub(t, hubOptions{})
	a := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 1)
	b := h.announce(t, recipientA, model.OriginTimeSeries, "TimeSeries", true, 1)

	bundle, err := h.assembler.Assemble(context.Background(), messagehub.AssembleRequest{Recipient: recipientA})
	require.NoError(t, err)
	require.NotNil(t, bundle)

	require.Equal(t, 1, h.requester.callCount())
	requested := h.requester.calls[0]
	assert.Equal(t, bundle.ID, requested.ID)
	assert.Equal(t, ids(a, b), requested.NotificationIDs)
	assert.Equal(t, model.BundleStateAwaitingContent, requested.State)

	assert.Equal(t, model.BundleStateReady, bundle.State)
	assert.Equal(t, "https://blob.local/"+bundle.ID.String(), *bundle.Content)
	assert.Equal(t, []uuid.UUID{bundle.ID}, h.notifications.ready)
}

// Every bundle respects its budget unless it holds a single item, an item
// without bundling support is always alone, and every item is delivered
// exactly once in sequence order.
func TestBundleAssembler_SelectionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		budget := rapid.Int64Range(1, 30).Draw(rt, "budget")
		h := newHub(t, hubOptions{assemblerOpts: []messagehub.AssemblerOption{messagehub.WithMaxBundleWeight(budget)}})

		type announcement struct {
			weight   int64
			bundling bool
		}
		n := rapid.IntRange(1, 25).Draw(rt, "items")
		announced := make(map[uuid.UUID]announcement, n)
		var order []uuid.UUID
		for i := 0; i < n; i++ {
			s := announcement{weight: rapid.Int64Range(0, 20).Draw(rt, "weight"), bundling: rapid.Bool().Draw(rt, "bundling")}
			stored, err := h.producer.Append(context.Background(),
				model.NewDataAvailableNotification(recipientA, model.OriginTimeSeries, "TimeSeries", s.bundling, s.weight, ""))
			require.NoError(rt, err)
			announced[stored.ID] = s
			order = append(order, stored.ID)
		}

		var delivered []uuid.UUID
		for {
			bundle, err := h.operator.Peek(context.Background(), messagehub.PeekRequest{Recipient: recipientA})
			require.NoError(rt, err)
			if bundle == nil {
				break
			}
			ok, err := h.operator.Dequeue(context.Background(), recipientA, bundle.ID)
			require.NoError(rt, err)
			require.True(rt, ok)

			var weight int64
			for _, id := range bundle.NotificationIDs {
				weight += announced[id].weight
				if len(bundle.NotificationIDs) > 1 {
					assert.True(rt, announced[id].bundling, "unbundleable item shared a bundle")
				}
			}
			assert.Equal(rt, weight, bundle.Weight)
			if len(bundle.NotificationIDs) > 1 {
				assert.LessOrEqual(rt, weight, budget)
			}
			delivered = append(delivered, bundle.NotificationIDs...)
		}

		assert.Equal(rt, order, delivered)
	})
}
