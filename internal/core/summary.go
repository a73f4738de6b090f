package core

// ImportSummary counts what happened to the records of one import.
type ImportSummary struct {
	Extracted       int // records returned by the adapter
	Malformed       int // records the adapter dropped
	Duplicates      int // already persisted or repeated in the batch
	SkippedNonDebit int // statement-file credits
	Inserted        int
	Categorized     int
}

// Uncategorized returns how many inserted records need review.
func (s ImportSummary) Uncategorized() int {
	return s.Inserted - s.Categorized
}
