package workflow

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// FormatReference renders a passage reference such as "Sl 23:1-3" or
// "Sl 23:1,3,5". Consecutive verses collapse into ranges.
func FormatReference(book string, chapter int, verses []int) string {
	ref := fmt.Sprintf("%s %d", book, chapter)
	if len(verses) == 0 {
		return ref
	}
	return ref + ":" + formatVerses(verses)
}

// Reference formats the passage of the inputs.
func (in Inputs) Reference() string {
	return FormatReference(in.Book, in.Chapter, in.Verses)
}

func formatVerses(verses []int) string {
	sorted := slices.Clone(verses)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var parts []string
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		if j > i {
			parts = append(parts, strconv.Itoa(sorted[i])+"-"+strconv.Itoa(sorted[j]))
		} else {
			parts = append(parts, strconv.Itoa(sorted[i]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}
