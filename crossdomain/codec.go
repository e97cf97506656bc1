package crossdomain

import (
	"fmt"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the wire messages.
const (
	requestIdempotencyID   protowire.Number = 1
	requestNotificationIDs protowire.Number = 2
	requestMessageType     protowire.Number = 3

	responseSuccess protowire.Number = 1
	responseFailure protowire.Number = 2

	successContentURI      protowire.Number = 1
	successNotificationIDs protowire.Number = 2

	failureReason      protowire.Number = 1
	failureDescription protowire.Number = 2

	dequeueRecipient       protowire.Number = 1
	dequeueNotificationIDs protowire.Number = 2
	dequeueBundleID        protowire.Number = 3

	dataAvailableID               protowire.Number = 1
	dataAvailableRecipient        protowire.Number = 2
	dataAvailableOrigin           protowire.Number = 3
	dataAvailableContentType      protowire.Number = 4
	dataAvailableSupportsBundling protowire.Number = 5
	dataAvailableWeight           protowire.Number = 6
	dataAvailableDocumentType     protowire.Number = 7
)

// MarshalRequest encodes a content request.
func MarshalRequest(r Request) []byte {
	var b []byte
	b = appendString(b, requestIdempotencyID, r.IdempotencyID)
	b = appendIDs(b, requestNotificationIDs, r.NotificationIDs)
	b = appendString(b, requestMessageType, r.MessageType)
	return b
}

// UnmarshalRequest decodes a content request.
func UnmarshalRequest(b []byte) (Request, error) {
	var r Request
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == requestIdempotencyID && typ == protowire.BytesType:
			return consumeString(v, &r.IdempotencyID)
		case num == requestNotificationIDs && typ == protowire.BytesType:
			return consumeID(v, &r.NotificationIDs)
		case num == requestMessageType && typ == protowire.BytesType:
			return consumeString(v, &r.MessageType)
		}
		return 0, nil
	})
	if err != nil {
		return Request{}, protocolError("malformed request", err)
	}
	return r, nil
}

// MarshalResponse encodes a content response.
func MarshalResponse(r Response) []byte {
	var b []byte
	if r.Success != nil {
		var s []byte
		s = appendString(s, successContentURI, r.Success.ContentURI)
		s = appendIDs(s, successNotificationIDs, r.Success.NotificationIDs)
		b = protowire.AppendTag(b, responseSuccess, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	if r.Failure != nil {
		var f []byte
		f = protowire.AppendTag(f, failureReason, protowire.VarintType)
		f = protowire.AppendVarint(f, uint64(r.Failure.Reason))
		f = appendString(f, failureDescription, r.Failure.Description)
		b = protowire.AppendTag(b, responseFailure, protowire.BytesType)
		b = protowire.AppendBytes(b, f)
	}
	return b
}

// UnmarshalResponse decodes a content response. A response that carries
// neither or both of success and failure is malformed.
func UnmarshalResponse(b []byte) (Response, error) {
	var r Response
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != responseSuccess && num != responseFailure) {
			return 0, nil
		}
		body, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if num == responseSuccess {
			s, err := unmarshalSuccess(body)
			r.Success = s
			return n, err
		}
		f, err := unmarshalFailure(body)
		r.Failure = f
		return n, err
	})
	if err != nil {
		return Response{}, protocolError("malformed response", err)
	}
	if (r.Success == nil) == (r.Failure == nil) {
		return Response{}, protocolError("response must carry exactly one of success and failure", nil)
	}
	return r, nil
}

func unmarshalSuccess(b []byte) (*Success, error) {
	s := &Success{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == successContentURI && typ == protowire.BytesType:
			return consumeString(v, &s.ContentURI)
		case num == successNotificationIDs && typ == protowire.BytesType:
			return consumeID(v, &s.NotificationIDs)
		}
		return 0, nil
	})
	return s, err
}

func unmarshalFailure(b []byte) (*Failure, error) {
	f := &Failure{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == failureReason && typ == protowire.VarintType:
			reason, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			f.Reason = model.FailureReason(int32(reason))
			return n, nil
		case num == failureDescription && typ == protowire.BytesType:
			return consumeString(v, &f.Description)
		}
		return 0, nil
	})
	if err == nil && !f.Reason.IsValid() {
		err = fmt.Errorf("unknown failure reason %d", int32(f.Reason))
	}
	return f, err
}

// MarshalDequeueNotification encodes a dequeue notification.
func MarshalDequeueNotification(d DequeueNotification) []byte {
	var b []byte
	b = appendString(b, dequeueRecipient, d.Recipient.String())
	b = appendIDs(b, dequeueNotificationIDs, d.NotificationIDs)
	if d.BundleID != uuid.Nil {
		b = appendString(b, dequeueBundleID, d.BundleID.String())
	}
	return b
}

// UnmarshalDequeueNotification decodes a dequeue notification.
func UnmarshalDequeueNotification(b []byte) (DequeueNotification, error) {
	var d DequeueNotification
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		switch num {
		case dequeueRecipient:
			var s string
			n, err := consumeString(v, &s)
			d.Recipient = model.GlobalLocationNumber(s)
			return n, err
		case dequeueNotificationIDs:
			return consumeID(v, &d.NotificationIDs)
		case dequeueBundleID:
			var ids []uuid.UUID
			n, err := consumeID(v, &ids)
			if err == nil {
				d.BundleID = ids[0]
			}
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return DequeueNotification{}, protocolError("malformed dequeue notification", err)
	}
	return d, nil
}

// MarshalDataAvailable encodes a data-available announcement.
func MarshalDataAvailable(d DataAvailable) []byte {
	var b []byte
	b = appendString(b, dataAvailableID, d.ID.String())
	b = appendString(b, dataAvailableRecipient, d.Recipient.String())
	b = appendString(b, dataAvailableOrigin, d.Origin.String())
	b = appendString(b, dataAvailableContentType, d.ContentType)
	b = protowire.AppendTag(b, dataAvailableSupportsBundling, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(d.SupportsBundling))
	b = protowire.AppendTag(b, dataAvailableWeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Weight))
	b = appendString(b, dataAvailableDocumentType, d.DocumentType)
	return b
}

// UnmarshalDataAvailable decodes a data-available announcement. The origin
// must be a known one.
func UnmarshalDataAvailable(b []byte) (DataAvailable, error) {
	var d DataAvailable
	var origin string
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ == protowire.VarintType {
			x, n := protowire.ConsumeVarint(v)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			switch num {
			case dataAvailableSupportsBundling:
				d.SupportsBundling = protowire.DecodeBool(x)
				return n, nil
			case dataAvailableWeight:
				d.Weight = int64(x)
				return n, nil
			}
			return 0, nil
		}
		if typ != protowire.BytesType {
			return 0, nil
		}
		switch num {
		case dataAvailableID:
			var ids []uuid.UUID
			n, err := consumeID(v, &ids)
			if err == nil {
				d.ID = ids[0]
			}
			return n, err
		case dataAvailableRecipient:
			var s string
			n, err := consumeString(v, &s)
			d.Recipient = model.GlobalLocationNumber(s)
			return n, err
		case dataAvailableOrigin:
			return consumeString(v, &origin)
		case dataAvailableContentType:
			return consumeString(v, &d.ContentType)
		case dataAvailableDocumentType:
			return consumeString(v, &d.DocumentType)
		}
		return 0, nil
	})
	if err != nil {
		return DataAvailable{}, protocolError("malformed data available announcement", err)
	}

	parsed, err := model.ParseOrigin(origin)
	if err != nil {
		return DataAvailable{}, protocolError("malformed data available announcement", err)
	}
	d.Origin = parsed
	return d, nil
}

// walk iterates the fields of b. fn consumes a field value and returns the
// number of bytes read, or 0 to have the field skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendIDs(b []byte, num protowire.Number, ids []uuid.UUID) []byte {
	for _, id := range ids {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, id.String())
	}
	return b
}

func consumeString(v []byte, dst *string) (int, error) {
	s, n := protowire.ConsumeString(v)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = s
	return n, nil
}

func consumeID(v []byte, dst *[]uuid.UUID) (int, error) {
	var s string
	n, err := consumeString(v, &s)
	if err != nil {
		return 0, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	*dst = append(*dst, id)
	return n, nil
}

func protocolError(message string, cause error) error {
	if cause == nil {
		return messagehub.NewError(messagehub.ErrCodeProtocol, message)
	}
	return messagehub.NewErrorWithCause(messagehub.ErrCodeProtocol, message, cause)
}
