package embedding

// LayerKind distinguishes which of the three materialized layers a text
// belongs to, so a GenAI-backed engine can pick the task type that yields
// the best embedding for that role (indexing a directory abstract behaves
// differently than indexing full detail or embedding a live query).
type LayerKind string

const (
	LayerAbstract LayerKind = "l0_abstract"
	LayerOverview LayerKind = "l1_overview"
	LayerDetail   LayerKind = "l2_detail"
	LayerQuery    LayerKind = "query"
)

// SelectTaskType picks the GenAI task-type string for a given layer role.
func SelectTaskType(layer LayerKind) string {
	switch layer {
	case LayerQuery:
		return "RETRIEVAL_QUERY"
	case LayerAbstract, LayerOverview, LayerDetail:
		return "RETRIEVAL_DOCUMENT"
	default:
		return "SEMANTIC_SIMILARITY"
	}
}
