package summarize

// Length buckets hint the model at how much to write. The bucket is a
// deterministic, monotone function of content size.
const (
	shortBucketMax  = 1 << 15 // 32 KiB
	mediumBucketMax = 1 << 16 // 64 KiB
)

// LengthBucket returns "short", "medium" or "long" for a content size in
// bytes.
func LengthBucket(contentLen int) string {
	switch {
	case contentLen < shortBucketMax:
		return "short"
	case contentLen < mediumBucketMax:
		return "medium"
	default:
		return "long"
	}
}

// ParagraphCount picks how many paragraphs a directory description should
// have, growing with the number of children.
func ParagraphCount(childCount int) string {
	if childCount > 10 {
		return "2"
	}
	return "1"
}
