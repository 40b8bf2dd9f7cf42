package timeline

import (
	"fmt"

	"github.com/adamavenir/threadline/internal/types"
)

// GroupReactions folds reaction rows by emoji in order of first appearance.
// Repeated rows from one user all count.
func GroupReactions(reactions []types.Reaction) []types.ReactionGroup {
	if len(reactions) == 0 {
		return nil
	}
	index := map[string]int{}
	var groups []types.ReactionGroup
	for _, reaction := range reactions {
		i, ok := index[reaction.Emoji]
		if !ok {
			i = len(groups)
			index[reaction.Emoji] = i
			groups = append(groups, types.ReactionGroup{Emoji: reaction.Emoji})
		}
		groups[i].Count++
		groups[i].UserIDs = append(groups[i].UserIDs, reaction.UserID)
	}
	return groups
}

// FormatReactionGroup renders a group as "👍 2".
func FormatReactionGroup(group types.ReactionGroup) string {
	return fmt.Sprintf("%s %d", group.Emoji, group.Count)
}
