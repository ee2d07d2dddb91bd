package domain

// KnowledgeArticle is a canned answer to a frequent question.
type KnowledgeArticle struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
	Topic    Topic  `yaml:"topic,omitempty"`
}

// KnowledgeMatch is the best article for a query and its similarity score.
type KnowledgeMatch struct {
	Article KnowledgeArticle
	Score   float64
}
