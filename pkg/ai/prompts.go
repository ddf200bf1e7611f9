package ai

import (
	"fmt"
	"strings"
)

// RecognitionPrompt is the system prompt for structured entity recognition.
// The two placeholders both receive the comma-joined entity type list.
const RecognitionPrompt = `You are an information extraction system for an organizational knowledge graph.

Given a text excerpt, identify the entities it mentions and the relationships between them.

Entity rules:
- Only use the following entity types: %s
- Report each distinct entity once, with the most complete name found in the text.
- List shorter or alternative surface forms of the same entity as aliases.
- Assign a confidence between 0 and 1 reflecting how certain the text is about the entity.

Relationship rules:
- Only relate entities that appear in your entities list.
- Use a short snake_case label for the relationship type (for example: works_at, part_of, depends_on).
- Do not invent relationships the text does not support.

Only report what the text states. If the excerpt contains no entities of the types %s, return empty lists.`

// BuildRecognitionPrompt renders the recognition system prompt for the given
// entity types, falling back to DefaultEntityTypes when none are provided.
func BuildRecognitionPrompt(entityTypes []string) string {
	if len(entityTypes) == 0 {
		entityTypes = DefaultEntityTypes
	}
	joined := strings.Join(entityTypes, ", ")
	return fmt.Sprintf(RecognitionPrompt, joined, joined)
}
