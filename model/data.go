// Package model contains the domain models of the message hub: data-available
// notifications, the cabinet structures (drawers and catalog entries) that
// queue them per recipient, and the bundles delivered to market operators.
package model

// tablePrefix is the default prefix of every table owned by the message hub.
const tablePrefix = "messagehub_"
