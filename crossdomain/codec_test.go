package crossdomain_test

import (
	"testing"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/crossdomain"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func withUnknownFields(b []byte) []byte {
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "added later")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	return protowire.AppendVarint(b, 7)
}

func TestRequest_RoundTrip(t *testing.T) {
	req := crossdomain.Request{
		IdempotencyID:   uuid.NewString(),
		NotificationIDs: []uuid.UUID{uuid.New(), uuid.New()},
		MessageType:     "TimeSeries",
	}

	got, err := crossdomain.UnmarshalRequest(withUnknownFields(crossdomain.MarshalRequest(req)))
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestResponse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp crossdomain.Response
	}{
		{"success", crossdomain.Response{Success: &crossdomain.Success{
			ContentURI:      "https://blob.local/content",
			NotificationIDs: []uuid.UUID{uuid.New()},
		}}},
		{"failure", crossdomain.Response{Failure: &crossdomain.Failure{
			Reason:      model.FailureDatasetNotAvailable,
			Description: "archived",
		}}},
		{"failure with zero reason", crossdomain.Response{Failure: &crossdomain.Failure{
			Reason: model.FailureDatasetNotFound,
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := crossdomain.UnmarshalResponse(withUnknownFields(crossdomain.MarshalResponse(tt.resp)))
			require.NoError(t, err)
			assert.Equal(t, tt.resp, got)
		})
	}
}

func TestUnmarshalResponse_Malformed(t *testing.T) {
	both := crossdomain.MarshalResponse(crossdomain.Response{
		Success: &crossdomain.Success{ContentURI: "x"},
		Failure: &crossdomain.Failure{Reason: model.FailureInternalError},
	})
	unknownReason := crossdomain.MarshalResponse(crossdomain.Response{
		Failure: &crossdomain.Failure{Reason: model.FailureReason(42)},
	})
	badID := protowire.AppendTag(nil, 1, protowire.BytesType)
	badID = protowire.AppendBytes(badID,
		protowire.AppendString(protowire.AppendTag(nil, 2, protowire.BytesType), "not-a-uuid"))

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"truncated", []byte{0x0a, 0x05, 0x01}},
		{"both results", both},
		{"unknown reason", unknownReason},
		{"invalid id", badID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crossdomain.UnmarshalResponse(tt.body)
			assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeProtocol), "got %v", err)
		})
	}
}

func TestDequeueNotification_RoundTrip(t *testing.T) {
	d := crossdomain.DequeueNotification{
		Recipient:       "5790000000005",
		BundleID:        uuid.New(),
		NotificationIDs: []uuid.UUID{uuid.New(), uuid.New()},
	}

	got, err := crossdomain.UnmarshalDequeueNotification(withUnknownFields(crossdomain.MarshalDequeueNotification(d)))
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = crossdomain.UnmarshalDequeueNotification([]byte{0xff})
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeProtocol))
}

func TestDataAvailable_RoundTrip(t *testing.T) {
	d := crossdomain.DataAvailable{
		ID:               uuid.New(),
		Recipient:        "5790000000005",
		Origin:           model.OriginCharges,
		ContentType:      "ChargeLinks",
		SupportsBundling: true,
		Weight:           12,
		DocumentType:     "NotifyPriceList",
	}

	got, err := crossdomain.UnmarshalDataAvailable(withUnknownFields(crossdomain.MarshalDataAvailable(d)))
	require.NoError(t, err)
	assert.Equal(t, d, got)

	n := got.Notification()
	assert.Equal(t, d.ID, n.ID)
	assert.Equal(t, d.Weight, n.Weight)
	assert.Equal(t, d.Origin, n.Origin)
}

func TestUnmarshalDataAvailable_UnknownOrigin(t *testing.T) {
	b := crossdomain.MarshalDataAvailable(crossdomain.DataAvailable{
		ID:        uuid.New(),
		Recipient: "5790000000005",
		Origin:    model.Origin("Billing"),
	})

	_, err := crossdomain.UnmarshalDataAvailable(b)
	assert.True(t, messagehub.HasCode(err, messagehub.ErrCodeProtocol))
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, model.OriginTimeSeries.QueueName(), crossdomain.RequestQueue(model.OriginTimeSeries))
	assert.Equal(t, model.OriginTimeSeries.QueueName()+"-reply", crossdomain.ReplyQueue(model.OriginTimeSeries))
	assert.Equal(t, model.OriginTimeSeries.QueueName()+"-dequeue", crossdomain.DequeueQueue(model.OriginTimeSeries))
}
