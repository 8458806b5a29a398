package domain

// SeedSource names where a draft's seed content came from.
type SeedSource string

const (
	// SeedSourceMemory indicates the seed is a long-term memory hit.
	SeedSourceMemory SeedSource = "memory"
	// SeedSourceContext indicates the seed is built from recent history.
	SeedSourceContext SeedSource = "context"
	// SeedSourceEmpty indicates both collaborators failed or returned nothing.
	SeedSourceEmpty SeedSource = "empty"
)

// Draft is the material handed to message generation for one proactive send.
type Draft struct {
	ConversationID string
	UserID         string
	UserName       string
	Reason         string
	Source         SeedSource
	Seed           string
	Question       string
	History        []HistoryMessage
}
