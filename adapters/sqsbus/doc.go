// Package sqsbus implements crossdomain.Bus on Amazon SQS.
//
// Message properties travel as SQS message attributes (SessionId, ReplyTo,
// ReplyToSessionId, CorrelationId). Bodies are base64 encoded because SQS
// accepts text only.
//
// SQS has no sessions. A session receiver polls the shared reply queue and
// keeps messages addressed to its session; messages for another session
// waiting in the same process are handed over, anything else is made visible
// again for other consumers of the queue. Reply queues should have a redrive
// policy so that replies nobody waits for anymore end up in a dead-letter queue.
package sqsbus
