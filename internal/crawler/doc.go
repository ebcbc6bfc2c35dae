// Package crawler defines the core types shared across the registry crawler:
// extracted entities, scrape jobs and their state machine, the error taxonomy,
// and the small interfaces that fetchers, stores, queues, and publishers
// implement.
package crawler
