package messagehub_test

import (
	"context"
	"sync"
	"testing"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/adapters/memory"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	recipientA model.GlobalLocationNumber = "5790000000005"
	recipientB model.GlobalLocationNumber = "5790000000012"
)

// fakeRequester answers content requests with a URI derived from the bundle id
// unless respond is set.
type fakeRequester struct {
	mu      sync.Mutex
	calls   []model.Bundle
	respond func(b model.Bundle) (*messagehub.ContentResult, error)
}

func (f *fakeRequester) RequestContent(_ context.Context, b model.Bundle) (*messagehub.ContentResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, b)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(b)
	}
	return &messagehub.ContentResult{ContentURI: "https://blob.local/" + b.ID.String()}, nil
}

func (f *fakeRequester) setRespond(respond func(b model.Bundle) (*messagehub.ContentResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

func (f *fakeRequester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingNotifications records every notification it receives.
type recordingNotifications struct {
	mu       sync.Mutex
	failures []model.FailureReason
	timeouts int
	ready    []uuid.UUID
	dequeued []uuid.UUID
}

func (r *recordingNotifications) NotifyContentFailure(_ context.Context, _ model.Bundle, reason model.FailureReason, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
	return nil
}

func (r *recordingNotifications) NotifyContentTimeout(_ context.Context, _ model.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts++
	return nil
}

func (r *recordingNotifications) NotifyBundleReady(_ context.Context, b model.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = append(r.ready, b.ID)
	return nil
}

func (r *recordingNotifications) NotifyBundleDequeued(_ context.Context, b model.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dequeued = append(r.dequeued, b.ID)
	return nil
}

// recordingDequeueNotifier records the bundles reported as dequeued.
type recordingDequeueNotifier struct {
	mu      sync.Mutex
	bundles []model.Bundle
}

func (r *recordingDequeueNotifier) NotifyDequeued(_ context.Context, b model.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles = append(r.bundles, b)
	return nil
}

// hub is a fully wired in-memory message hub.
type hub struct {
	storage       *memory.CabinetStorage
	bundles       *memory.BundleRepository
	requester     *fakeRequester
	notifications *recordingNotifications
	dequeues      *recordingDequeueNotifier
	assembler     *messagehub.BundleAssembler
	operator      *messagehub.MarketOperatorService
	producer      *messagehub.DataAvailableService
}

type hubOptions struct {
	wrap              func(*memory.CabinetStorage) messagehub.CabinetStorage
	assemblerOpts     []messagehub.AssemblerOption
	operatorOpts      []messagehub.MarketOperatorOption
	maxItemsPerDrawer int64
}

func newHub(t *testing.T, opts hubOptions) *hub {
	t.Helper()

	var storageOpts []memory.StorageOption
	if opts.maxItemsPerDrawer > 0 {
		storageOpts = append(storageOpts, memory.WithMaxItemsPerDrawer(opts.maxItemsPerDrawer))
	}

	h := &hub{
		storage:       memory.NewCabinetStorage(storageOpts...),
		bundles:       memory.NewBundleRepository(),
		requester:     &fakeRequester{},
		notifications: &recordingNotifications{},
		dequeues:      &recordingDequeueNotifier{},
	}
	var storage messagehub.CabinetStorage = h.storage
	if opts.wrap != nil {
		storage = opts.wrap(h.storage)
	}

	var err error
	h.assembler, err = messagehub.NewBundleAssembler(append([]messagehub.AssemblerOption{
		messagehub.WithAssemblerRepositories(storage, h.bundles),
		messagehub.WithContentRequester(h.requester),
		messagehub.WithAssemblerLogger(&messagehub.NoopLogger{}),
		messagehub.WithAssemblerNotifications(h.notifications),
	}, opts.assemblerOpts...)...)
	require.NoError(t, err)

	h.operator, err = messagehub.NewMarketOperatorService(append([]messagehub.MarketOperatorOption{
		messagehub.WithOperatorAssembler(h.assembler),
		messagehub.WithOperatorBundles(h.bundles),
		messagehub.WithOperatorLogger(&messagehub.NoopLogger{}),
		messagehub.WithDequeueNotifier(h.dequeues),
		messagehub.WithOperatorNotifications(h.notifications),
	}, opts.operatorOpts...)...)
	require.NoError(t, err)

	h.producer, err = messagehub.NewDataAvailableService(
		messagehub.WithDataAvailableStorage(storage),
		messagehub.WithDataAvailableLogger(&messagehub.NoopLogger{}),
	)
	require.NoError(t, err)

	return h
}

// announce appends a notification and returns it with its sequence number.
func (h *hub) announce(t *testing.T, recipient model.GlobalLocationNumber, origin model.Origin, contentType string, bundling bool, weight int64) model.DataAvailableNotification {
	t.Helper()
	stored, err := h.producer.Append(context.Background(),
		model.NewDataAvailableNotification(recipient, origin, contentType, bundling, weight, "Document"))
	require.NoError(t, err)
	return *stored
}

// peekAndDequeue peeks the recipient's bundle and dequeues it.
func (h *hub) peekAndDequeue(t *testing.T, recipient model.GlobalLocationNumber) *model.Bundle {
	t.Helper()
	ctx := context.Background()

	bundle, err := h.operator.Peek(ctx, messagehub.PeekRequest{Recipient: recipient})
	require.NoError(t, err)
	if bundle == nil {
		return nil
	}
	ok, err := h.operator.Dequeue(ctx, recipient, bundle.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return bundle
}

func ids(notifications ...model.DataAvailableNotification) []uuid.UUID {
	out := make([]uuid.UUID, len(notifications))
	for i, n := range notifications {
		out[i] = n.ID
	}
	return out
}
