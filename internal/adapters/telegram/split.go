package telegram

import "strings"

// Bot API обрезает сообщения длиннее 4096 символов.
const messageLimit = 4096

// SplitMessage режет текст на части под лимит Bot API, предпочитая
// границы строк, чтобы не рвать форматированные блоки.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	appendPart := func(chunk string) {
		chunk = strings.Trim(chunk, "\n")
		if chunk != "" {
			parts = append(parts, chunk)
		}
	}

	start := 0
	for start < len(runes) {
		end := start + messageLimit
		if end >= len(runes) {
			appendPart(string(runes[start:]))
			break
		}
		split := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		appendPart(string(runes[start:split]))
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}
