package common

const (
	ComponentStream    = "stream"
	ComponentDecoder   = "decoder"
	ComponentStore     = "event-store"
	ComponentIngest    = "ingest"
	ComponentProjector = "projector"
	ComponentIndexer   = "indexer"
	ComponentAPI       = "api"
	ComponentDomain    = "domain"
)

var AllComponents = map[string]struct{}{
	ComponentStream:    {},
	ComponentDecoder:   {},
	ComponentStore:     {},
	ComponentIngest:    {},
	ComponentProjector: {},
	ComponentIndexer:   {},
	ComponentAPI:       {},
	ComponentDomain:    {},
}
