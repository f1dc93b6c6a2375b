package authz

// PendingRequest is an access request queued at the authorization service.
type PendingRequest struct {
	UserAddress     string `json:"user_address"`
	Resource        string `json:"resource"`
	DurationSeconds int64  `json:"duration"`
}

// GrantResult is returned by a successful on-chain token issuance.
type GrantResult struct {
	TokenID int64  `json:"token_id"`
	TxHash  string `json:"tx_hash"`
}

// StatusResult is one element of a batch status response, aligned by index
// with the requested token ids.
type StatusResult struct {
	TokenID          int64  `json:"token_id"`
	Status           string `json:"status"`
	RemainingSeconds int64  `json:"remaining_time"`
}

type grantRequest struct {
	UserAddress string `json:"user_address"`
	Resource    string `json:"resource"`
	Duration    int64  `json:"duration"`
}

type revokeRequest struct {
	TokenID int64 `json:"tokenId"`
}

type batchStatusRequest struct {
	Tokens []int64 `json:"tokens"`
}

type errorResponse struct {
	Error string `json:"error"`
}
