package domain

// ResultStatus tags a per-entry batch outcome.
type ResultStatus string

const (
	ResultCommitted ResultStatus = "committed"
	ResultDiscarded ResultStatus = "discarded"
	ResultFailed    ResultStatus = "failed"
)

// EntryResult is one element of a batch outcome. Batches are not atomic:
// callers inspect each result instead of assuming all-or-nothing.
type EntryResult struct {
	EntryKey       string
	Status         ResultStatus
	TransactionKey string // set when Status is ResultCommitted
	Err            error  // set when Status is ResultFailed
}

func (r EntryResult) Failed() bool { return r.Status == ResultFailed }

// Kind classifies the failure, or KindNone on success.
func (r EntryResult) Kind() Kind { return KindOf(r.Err) }

func Committed(entryKey, txKey string) EntryResult {
	return EntryResult{EntryKey: entryKey, Status: ResultCommitted, TransactionKey: txKey}
}

func Discarded(entryKey string) EntryResult {
	return EntryResult{EntryKey: entryKey, Status: ResultDiscarded}
}

func Failed(entryKey string, err error) EntryResult {
	return EntryResult{EntryKey: entryKey, Status: ResultFailed, Err: err}
}

// FailAll reports the same failure for every key.
func FailAll(keys []string, err error) []EntryResult {
	results := make([]EntryResult, 0, len(keys))
	for _, k := range keys {
		results = append(results, Failed(k, err))
	}
	return results
}
