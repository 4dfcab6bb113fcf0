package domain

// Identity is the opaque account record resolved for the requesting
// subdomain. The provisioning backend keys card requests by email.
type Identity struct {
	Email string `json:"email"`
}

// CardCreationNotice carries user identity plus proof of payment for a new
// card request.
type CardCreationNotice struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	TxHash    string `json:"tx_hash"`
}

// TopUpNotice carries the funded amount plus proof of payment for a balance
// top-up. Amount is a whole-token decimal string for display.
type TopUpNotice struct {
	Email  string `json:"email"`
	Amount string `json:"amount"`
	TxHash string `json:"tx_hash"`
}
