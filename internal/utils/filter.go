package utils

func FilterArray[T any](input []T, predicate func(T) bool) []T {
	filtered := make([]T, 0)
	for _, item := range input {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// Chunk splits input into consecutive slices of at most size elements,
// preserving order.
func Chunk[T any](input []T, size int) [][]T {
	if len(input) == 0 {
		return [][]T{}
	}
	if size <= 0 {
		size = len(input)
	}
	chunks := make([][]T, 0, (len(input)+size-1)/size)
	for start := 0; start < len(input); start += size {
		end := min(start+size, len(input))
		chunks = append(chunks, input[start:end])
	}
	return chunks
}
