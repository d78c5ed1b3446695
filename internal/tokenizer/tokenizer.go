package tokenizer

// Tokenizer converts between text and token IDs. Engines hold one and expose
// it through the driver's accessors; callers may swap in their own
// implementation at runtime.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// ByteTokenizer is the default implementation: each byte is its own token,
// so the vocabulary is exactly 256 entries and Encode/Decode round-trip any
// string. Real deployments replace it via SetTokenizer.
type ByteTokenizer struct{}

func NewByteTokenizer() *ByteTokenizer {
	return &ByteTokenizer{}
}

// VocabSize is the number of distinct byte tokens.
const VocabSize = 256

func (t *ByteTokenizer) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids
}

func (t *ByteTokenizer) Decode(ids []int) string {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= VocabSize {
			// Out-of-range IDs come from engines with larger
			// vocabularies; fold them back into byte range.
			id = id % VocabSize
			if id < 0 {
				id += VocabSize
			}
		}
		buf = append(buf, byte(id))
	}
	return string(buf)
}
