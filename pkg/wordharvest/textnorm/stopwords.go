package textnorm

// defaultStopWords is tuned for short social posts: function words plus
// filler that dominates every subreddit ("people", "time", "good").
var defaultStopWords = []string{
	"ever", "why", "the", "be", "to", "of", "and", "a", "in", "that", "have",
	"i", "it", "for", "not", "on", "with", "he", "as", "you", "do", "at",
	"this", "but", "his", "by", "from", "they", "we", "say", "her", "she",
	"or", "an", "will", "my", "one", "all", "would", "there", "their",
	"what", "so", "up", "out", "if", "about", "who", "get", "which", "go",
	"me", "when", "make", "can", "like", "time", "no", "just", "him", "know",
	"take", "people", "into", "year", "your", "good", "some", "could", "them",
	"see", "other", "than", "then", "now", "look", "only", "come", "its",
	"over", "think", "also", "back", "after", "use", "two", "how", "our",
	"work", "first", "well", "way", "even", "new", "want", "because", "any",
	"these", "give", "day", "most", "us", "is", "are", "was", "were", "been",
	"being", "has", "had", "does", "did", "should", "may", "might", "must",
	"shall", "am", "pm", "etc", "vs", "mr", "mrs", "dr", "prof",
	"inc", "ltd", "co", "corp", "llc",
}

// DefaultStopWords returns a copy of the built-in stop-word list.
func DefaultStopWords() []string {
	return append([]string(nil), defaultStopWords...)
}
