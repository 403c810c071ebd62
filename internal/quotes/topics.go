package quotes

// topics maps each topic to its keyword set. Keywords are lowercase;
// scoring counts case-insensitive substring matches.
var topics = map[string][]string{
	"ai": {
		"ai", "machine learning", "ml", "neural", "llm", "gpt",
		"model", "agent", "transformer", "deep learning",
	},
	"tech": {
		"software", "code", "programming", "developer", "engineering",
		"open source", "api", "cloud", "startup", "infra",
	},
	"business": {
		"business", "market", "revenue", "founder", "product",
		"growth", "customer", "sales", "funding", "strategy",
	},
	"science": {
		"science", "research", "physics", "biology", "chemistry",
		"study", "experiment", "data", "paper", "theory",
	},
}

// topicOrder fixes the merge order of per-topic selections.
var topicOrder = []string{"ai", "tech", "business", "science"}

// TopicNames returns the topics in selection order.
func TopicNames() []string {
	return topicOrder
}
