package gateway

import "github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"

// ApproveResponse renders the outcome of Approve for the wire.
func ApproveResponse(ok bool, err error) paymentapi.ApproveResponse {
	if ok && err == nil {
		return paymentapi.ApproveResponse{Success: true}
	}
	msg, details := message(err)
	return paymentapi.ApproveResponse{Success: false, Error: msg, Details: details}
}

// CompleteResponse renders the outcome of Complete. Verified is only set for a completion
// backed by a verified transaction.
func CompleteResponse(ok bool, err error) paymentapi.CompleteResponse {
	if ok && err == nil {
		return paymentapi.CompleteResponse{Success: true, Verified: true}
	}
	msg, details := message(err)
	return paymentapi.CompleteResponse{Success: false, Verified: false, Error: msg, Details: details}
}
