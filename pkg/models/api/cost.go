package api

type Period struct {
	From string `json:"from"`
	To   string `json:"to"`
	Days int    `json:"days"`
}

type Totals struct {
	AmountUSD     float64 `json:"amount_usd"`
	UsageQuantity float64 `json:"usage_quantity"`
	Records       int     `json:"records"`
}

type Comparison struct {
	Previous      Totals   `json:"previous"`
	AbsoluteDelta float64  `json:"absolute_delta"`
	PercentDelta  *float64 `json:"percent_delta"`
}

type CostSummary struct {
	Period     Period     `json:"period"`
	Total      Totals     `json:"total"`
	Comparison Comparison `json:"comparison"`
}

type BreakdownItem struct {
	Value      string  `json:"dimension_value"`
	Cost       float64 `json:"cost"`
	Percentage float64 `json:"percentage"`
}

type CostBreakdown struct {
	Dimension string          `json:"dimension"`
	Period    Period          `json:"period"`
	Items     []BreakdownItem `json:"items"`
}

type CostRecord struct {
	AccountID      string  `json:"account_id"`
	Provider       string  `json:"provider"`
	ServiceName    string  `json:"service_name"`
	RawServiceName string  `json:"raw_service_name,omitempty"`
	Region         string  `json:"region"`
	Date           string  `json:"date"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	AmountUSD      float64 `json:"amount_usd"`
	UsageQuantity  float64 `json:"usage_quantity"`
	UsageUnit      string  `json:"usage_unit"`
	Unmapped       bool    `json:"unmapped,omitempty"`
}

type RecordPage struct {
	Records  []CostRecord `json:"records"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int          `json:"total"`
}

type DimensionMismatch struct {
	Dimension    string  `json:"dimension"`
	Value        string  `json:"value"`
	PerAccount   float64 `json:"per_account_sum"`
	AllAccounts  float64 `json:"all_accounts"`
	AbsoluteDiff float64 `json:"absolute_diff"`
}

type ConsistencyReport struct {
	Period     Period              `json:"period"`
	Consistent bool                `json:"consistent"`
	Mismatches []DimensionMismatch `json:"mismatches"`
}

type SyncReport struct {
	AccountID   string `json:"account_id"`
	Period      Period `json:"period"`
	Status      string `json:"status"`
	Fetched     int    `json:"fetched"`
	Written     int    `json:"written"`
	Unchanged   int    `json:"unchanged"`
	Quarantined int    `json:"quarantined"`
	Error       *Error `json:"error,omitempty"`
}

type IngestionRunRequest struct {
	AccountIDs []string `json:"account_ids"`
	From       string   `json:"from"`
	To         string   `json:"to"`
}

type IngestionRunResponse struct {
	Reports []SyncReport `json:"reports"`
}
