package domain

type SyncStatus string

const (
	SyncStatusSuccess        SyncStatus = "success"
	SyncStatusPartialSuccess SyncStatus = "partial_success"
	SyncStatusFailed         SyncStatus = "failed"
)

// SyncReport describes one ingestion pass over one account.
type SyncReport struct {
	AccountID   string
	Period      Period
	Status      SyncStatus
	Fetched     int
	Written     int
	Unchanged   int
	Merged      int
	Quarantined int
	Err         error
}
