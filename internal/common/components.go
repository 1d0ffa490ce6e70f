package common

const (
	ComponentListener      = "listener"
	ComponentCoordinator   = "coordinator"
	ComponentEventStore    = "event-store"
	ComponentSyncStatus    = "sync-status"
	ComponentBlockRefs     = "block-refs"
	ComponentDecoder       = "decoder"
	ComponentFetcher       = "fetcher"
	ComponentSearchIndexer = "search-indexer"
	ComponentDeadLetter    = "dead-letter"
	ComponentMaintenance   = "maintenance"
	ComponentSupervisor    = "supervisor"
	ComponentAPI           = "api"
)

var AllComponents = map[string]struct{}{
	ComponentListener:      {},
	ComponentCoordinator:   {},
	ComponentEventStore:    {},
	ComponentSyncStatus:    {},
	ComponentBlockRefs:     {},
	ComponentDecoder:       {},
	ComponentFetcher:       {},
	ComponentSearchIndexer: {},
	ComponentDeadLetter:    {},
	ComponentMaintenance:   {},
	ComponentSupervisor:    {},
	ComponentAPI:           {},
}
