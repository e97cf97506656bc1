// Package messagehub provides a message hub that sits between the domains that
// own market data and the market operators that consume it.
//
// Domains announce that data is available for a recipient. The hub queues the
// announcements per recipient, groups them into bundles on demand and asks the
// owning domain for the bundle's content. Recipients peek the next bundle and
// dequeue it once they processed it.
//
// # Features
//
//   - Ordered cabinets: one logical queue per recipient, origin and content type
//   - Drawers: cabinets are split into bounded drawers with independent read cursors
//   - Weight-bounded bundles: items are bundled until the per-bundle budget is spent
//   - Optimistic concurrency: no locks, every cursor move is conditional on a version
//   - Idempotent peek: a recipient sees the same bundle until it is dequeued
//   - Cross-domain request/reply over a session-aware bus (in-memory or SQS)
//   - Options Pattern for service configuration
//   - Pluggable architecture: bring your own Logger, NotificationService, storage
//   - Multi-Database Support: MySQL, PostgreSQL, SQLite via Relica adapters
//   - Embedded Migrations for easy database setup
//
// # Quick Start
//
// Apply the migrations and create the storage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/messagehub"
//	    "github.com/coregx/messagehub/adapters/relica"
//	    "github.com/coregx/messagehub/crossdomain"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	db, _ := sql.Open("mysql", "user:pass@tcp(localhost:3306)/messagehub?parseTime=true")
//	if err := relica.Migrate(ctx, db, "messagehub_"); err != nil {
//	    log.Fatal(err)
//	}
//	repos := relica.NewRepositories(db, "mysql")
//
// Wire the producer and the market operator side:
//
//	producer, _ := messagehub.NewDataAvailableService(
//	    messagehub.WithDataAvailableStorage(repos.Cabinet),
//	    messagehub.WithDataAvailableLogger(logger),
//	)
//
//	client, _ := crossdomain.NewClient(
//	    crossdomain.WithClientBus(bus),
//	    crossdomain.WithClientLogger(logger),
//	)
//
//	assembler, _ := messagehub.NewBundleAssembler(
//	    messagehub.WithAssemblerRepositories(repos.Cabinet, repos.Bundles),
//	    messagehub.WithContentRequester(client),
//	    messagehub.WithAssemblerLogger(logger),
//	)
//
//	operator, _ := messagehub.NewMarketOperatorService(
//	    messagehub.WithOperatorAssembler(assembler),
//	    messagehub.WithOperatorBundles(repos.Bundles),
//	    messagehub.WithOperatorLogger(logger),
//	)
//
// Peek and dequeue:
//
//	bundle, err := operator.Peek(ctx, messagehub.PeekRequest{Recipient: "5790000000005"})
//	if err != nil || bundle == nil {
//	    return err // nothing to deliver yet
//	}
//	// hand *bundle.Content to the recipient, then
//	ok, err := operator.Dequeue(ctx, bundle.Recipient, bundle.ID)
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         Application Layer           │
//	│  (MarketOperatorService,            │
//	│   DataAvailableService, Cleanup)    │
//	└─────────────┬───────────────────────┘
//	              │
//	┌─────────────▼───────────────────────┐
//	│   BundleAssembler, CabinetReader    │
//	└─────────────┬───────────────────────┘
//	              │
//	┌─────────────▼───────────────────────┐
//	│  Storage adapters (relica, memory)  │
//	│  Bus adapters (sqsbus, memory)      │
//	└─────────────────────────────────────┘
//
// # Message Flow
//
//  1. ANNOUNCE
//     Domain → dataavailable queue → DataAvailableConsumer
//     → DataAvailableService.Append → newest drawer of the cabinet
//
//  2. PEEK
//     MarketOperatorService → outstanding bundle? return it
//     → BundleAssembler picks the oldest cabinet of the highest priority origin
//     → reads items up to the weight budget → asks the domain for content
//     → saves the bundle and commits the drawer cursors, or retries on conflict
//
//  3. DEQUEUE
//     Recipient acknowledges → bundle marked dequeued
//     → domain is told via its <origin>-dequeue queue
//
//  4. CLEANUP
//     CleanupWorker removes dequeued bundles past retention and their
//     consumed notifications.
//
// # Database Schema
//
//	messagehub_sequence              - Sequence counters per recipient and origin
//	messagehub_drawer                - Drawers with read cursor and version
//	messagehub_notification          - Stored data-available notifications
//	messagehub_catalog               - Cabinets with unread data
//	messagehub_bundle                - Bundles, at most one outstanding per recipient
//	messagehub_bundle_notification   - Notification ids of each bundle
//
// Table prefix can be customized (default: "messagehub_").
package messagehub
