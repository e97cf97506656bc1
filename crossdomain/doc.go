// Package crossdomain implements the asynchronous request/reply protocol the
// message hub uses to talk to the domains that own the data.
//
// The hub asks a domain for the content of a bundle by sending a Request to the
// domain's queue. The request carries the name of a reply queue and a fresh
// session id; the domain answers with a Response addressed to that session, so
// each waiting caller receives exactly its own reply.
//
// Queues:
//
//	<origin>           requests for the domain (e.g. "timeseries")
//	<origin>-reply     session-addressed replies back to the hub
//	<origin>-dequeue   notifications about bundles the recipient acknowledged
//	dataavailable      data-available announcements from all domains
//
// Payloads use the protobuf wire format. Decoders skip unknown fields so that
// either side can add fields without breaking the other.
package crossdomain
