package utils

import "unicode"

// SplitText splits a long string into chunks of approximately 'chunkSize' runes.
// It includes an 'overlap' to preserve context at boundaries and prefers to cut at
// whitespace in the last quarter of a chunk.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	totalLen := len(runes)
	if chunkSize <= 0 || totalLen <= chunkSize {
		return []string{text}
	}

	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize // fallback if overlap >= chunkSize
	}

	var chunks []string
	for i := 0; i < totalLen; {
		end := i + chunkSize
		if end >= totalLen {
			chunks = append(chunks, string(runes[i:]))
			break
		}

		cut := end
		for j := end; j > i+chunkSize*3/4; j-- {
			if unicode.IsSpace(runes[j]) {
				cut = j
				break
			}
		}

		chunks = append(chunks, string(runes[i:cut]))
		next := i + step - (end - cut)
		if next <= i {
			next = cut
		}
		i = next
	}

	return chunks
}
