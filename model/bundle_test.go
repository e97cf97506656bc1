package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() CabinetKey {
	return CabinetKey{Recipient: "5790000000005", Origin: OriginTimeSeries, ContentType: "TimeSeries"}
}

func TestBundle_TableName(t *testing.T) {
	assert.Equal(t, "messagehub_bundle", Bundle{}.TableName())
}

func TestNewBundle(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	b := NewBundle(uuid.Nil, testKey(), ids, 30)

	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.NotEqual(t, uuid.Nil, b.ProcessID)
	assert.Equal(t, testKey(), b.Key())
	assert.Equal(t, ids, b.NotificationIDs)
	assert.Equal(t, int64(30), b.Weight)
	assert.Equal(t, BundleStatePending, b.State)
	assert.False(t, b.HasContent())
	assert.False(t, b.IsReady())

	ids[0] = uuid.Nil
	assert.NotEqual(t, uuid.Nil, b.NotificationIDs[0], "ids are copied")
}

func TestNewBundle_KeepsSuppliedID(t *testing.T) {
	id := uuid.New()
	b := NewBundle(id, testKey(), []uuid.UUID{uuid.New()}, 1)
	assert.Equal(t, id, b.ID)
}

func TestBundle_Lifecycle(t *testing.T) {
	b := NewBundle(uuid.Nil, testKey(), []uuid.UUID{uuid.New()}, 1)

	require.NoError(t, b.MarkAwaitingContent())
	assert.Equal(t, BundleStateAwaitingContent, b.State)
	assert.ErrorIs(t, b.MarkAwaitingContent(), ErrInvalidBundleTransition)

	require.NoError(t, b.AssignContent("https://blob/1"))
	assert.Equal(t, BundleStateReady, b.State)
	assert.True(t, b.IsReady())
	assert.Equal(t, "https://blob/1", *b.Content)

	assert.True(t, b.MarkDequeued())
	assert.Equal(t, BundleStateDequeued, b.State)
	assert.NotNil(t, b.DequeuedAt)
	assert.False(t, b.IsReady())

	assert.False(t, b.MarkDequeued(), "second dequeue is a no-op")
}

func TestBundle_AssignContent(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(b *Bundle)
		uri     string
		wantErr error
	}{
		{name: "from pending", uri: "u"},
		{name: "from awaiting content", prepare: func(b *Bundle) { _ = b.MarkAwaitingContent() }, uri: "u"},
		{name: "empty uri", uri: "", wantErr: ErrEmptyContent},
		{name: "already assigned", prepare: func(b *Bundle) { _ = b.AssignContent("first") }, uri: "second", wantErr: ErrContentAlreadyAssigned},
		{name: "after dequeue", prepare: func(b *Bundle) { b.State = BundleStateDequeued }, uri: "u", wantErr: ErrInvalidBundleTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBundle(uuid.Nil, testKey(), []uuid.UUID{uuid.New()}, 1)
			if tt.prepare != nil {
				tt.prepare(&b)
			}

			err := b.AssignContent(tt.uri)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, b.IsReady())
		})
	}
}

func TestBundle_MarkDequeued_RequiresReady(t *testing.T) {
	b := NewBundle(uuid.Nil, testKey(), []uuid.UUID{uuid.New()}, 1)
	assert.False(t, b.MarkDequeued())
	assert.Equal(t, BundleStatePending, b.State)
}

func TestDomainError_Error(t *testing.T) {
	assert.Equal(t, "Bundle content must not be empty", ErrEmptyContent.Error())
}
